// Package password hashes, verifies and opportunistically migrates user
// password hashes. The modern scheme is argon2id; bcrypt hashes remain
// verifiable and are upgraded lazily on the next successful login.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/credential"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength y MaxLength definen la única regla de validación. Sin reglas
	// de composición: un secreto largo vence a uno corto con símbolos.
	MinLength = 8
	MaxLength = 64

	argon2Prefix = "$argon2id$"
	bcryptPrefix = "$2"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("PASSWORD")

var (
	CodeInvalidLength = ErrRegistry.Register("INVALID_LENGTH", errx.TypeValidation, http.StatusBadRequest, "Password must be between 8 and 64 characters")
	CodeHashFailed    = ErrRegistry.Register("HASH_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Password hashing failed")
)

// ============================================================================
// Service
// ============================================================================

// Service implements hashing, verification and lazy migration.
type Service struct {
	cfg config.PasswordConfig
}

// NewService crea el servicio con los parámetros de coste configurados.
func NewService(cfg config.PasswordConfig) *Service {
	if cfg.Memory == 0 {
		cfg.Memory = 19 * 1024
	}
	if cfg.Time == 0 {
		cfg.Time = 2
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 1
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = 16
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = 32
	}
	return &Service{cfg: cfg}
}

// Hash computes an argon2id hash with a fresh random salt. Two calls with
// the same password produce different encodings; both verify.
func (s *Service) Hash(password string) (string, error) {
	salt := make([]byte, s.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", ErrRegistry.NewWithCause(CodeHashFailed, err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		s.cfg.Time,
		s.cfg.Memory,
		s.cfg.Parallelism,
		s.cfg.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		s.cfg.Memory,
		s.cfg.Time,
		s.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyResult is the outcome of VerifyAndUpgrade.
type VerifyResult struct {
	Valid        bool
	NeedsUpgrade bool
	// NewHash carries a fresh argon2id hash when the verified hash was
	// produced by the legacy scheme. The caller persists it.
	NewHash string
}

// VerifyAndUpgrade verifies the password under the stated algorithm. When a
// legacy bcrypt hash verifies, a fresh argon2id hash is computed so the
// caller can migrate the row opportunistically. A malformed hash yields
// Valid=false, never an error.
func (s *Service) VerifyAndUpgrade(password, hash string, algorithm credential.Algorithm) VerifyResult {
	switch algorithm {
	case credential.AlgorithmBcrypt:
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			return VerifyResult{}
		}
		newHash, err := s.Hash(password)
		if err != nil {
			// Valid login even if the upgrade hash could not be produced;
			// migration simply waits for the next attempt.
			return VerifyResult{Valid: true}
		}
		return VerifyResult{Valid: true, NeedsUpgrade: true, NewHash: newHash}

	case credential.AlgorithmArgon2id:
		ok, err := verifyArgon2(password, hash)
		if err != nil {
			return VerifyResult{}
		}
		return VerifyResult{Valid: ok}

	default:
		return VerifyResult{}
	}
}

// Validate applies the length-only policy.
func (s *Service) Validate(password string) error {
	if len(password) < MinLength || len(password) > MaxLength {
		return ErrRegistry.New(CodeInvalidLength)
	}
	return nil
}

// NeedsUpgrade reports whether the stored hash uses the legacy scheme.
// Pure prefix inspection, no cryptographic work.
func NeedsUpgrade(hash string) bool {
	return !strings.HasPrefix(hash, argon2Prefix) && strings.HasPrefix(hash, bcryptPrefix)
}

// ============================================================================
// PHC Decoding
// ============================================================================

type parsedHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func verifyArgon2(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.hash)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parsePHC(encodedHash string) (*parsedHash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, fmt.Errorf("invalid PHC format")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("unsupported argon2 version")
	}

	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return nil, fmt.Errorf("invalid parameter block")
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return nil, fmt.Errorf("invalid cost parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("invalid salt encoding")
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("invalid hash encoding")
	}

	return &parsedHash{
		memory:      memory,
		time:        timeCost,
		parallelism: parallelism,
		salt:        salt,
		hash:        hash,
	}, nil
}
