package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Formatter converts a log event into an output line
type Formatter interface {
	Format(ts time.Time, level Level, msg string, fields Fields) string
}

// ============================================================================
// Console Formatter
// ============================================================================

// ConsoleFormatter renders human-readable, optionally colored lines
type ConsoleFormatter struct {
	EnableColors bool
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func levelColor(level Level) string {
	switch level {
	case LevelDebug:
		return colorGray
	case LevelInfo:
		return colorBlue
	case LevelWarn:
		return colorYellow
	default:
		return colorRed
	}
}

// Format implements Formatter
func (f *ConsoleFormatter) Format(ts time.Time, level Level, msg string, fields Fields) string {
	var b strings.Builder

	b.WriteString(ts.Format("2006-01-02 15:04:05"))
	b.WriteString(" ")

	if f.EnableColors {
		b.WriteString(levelColor(level))
		b.WriteString(fmt.Sprintf("%-5s", level.String()))
		b.WriteString(colorReset)
	} else {
		b.WriteString(fmt.Sprintf("%-5s", level.String()))
	}

	b.WriteString(" ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
		}
	}

	return b.String()
}

// ============================================================================
// JSON Formatter
// ============================================================================

// JSONFormatter renders one JSON object per line
type JSONFormatter struct{}

// Format implements Formatter
func (f *JSONFormatter) Format(ts time.Time, level Level, msg string, fields Fields) string {
	event := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			event[k] = err.Error()
			continue
		}
		event[k] = v
	}
	event["timestamp"] = ts.Format(time.RFC3339)
	event["level"] = level.String()
	event["message"] = msg

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","message":"logx: marshal failure: %v"}`, err)
	}
	return string(data)
}
