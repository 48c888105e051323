// Package sessionsrv contains the session lifecycle service and the
// background cleanup worker.
package sessionsrv

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

const tokenBytes = 32

// SessionService drives the session lifecycle over a session.Store.
// The store may or may not be cached; the service does not care.
type SessionService struct {
	store session.Store
	cfg   config.SessionConfig
}

// NewSessionService creates the lifecycle service.
func NewSessionService(store session.Store, cfg config.SessionConfig) *SessionService {
	return &SessionService{store: store, cfg: cfg}
}

// Issue mints a new session for the user. The token is crypto-random and
// returned exactly once; the caller delivers it to the client.
func (s *SessionService) Issue(ctx context.Context, userID kernel.UserID, tenantID kernel.TenantID) (*session.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, errx.Wrap(err, "failed to generate session token", errx.TypeInternal)
	}

	now := time.Now().UTC()
	sess := session.Session{
		Token:             token,
		UserID:            userID,
		TenantID:          tenantID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.InactivityWindow),
		AbsoluteExpiresAt: now.Add(s.cfg.AbsoluteLifetime),
	}
	if sess.ExpiresAt.After(sess.AbsoluteExpiresAt) {
		sess.ExpiresAt = sess.AbsoluteExpiresAt
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Resolve looks up a session by token and slides its inactivity deadline
// forward. This is the per-request entry point used by the middleware.
func (s *SessionService) Resolve(ctx context.Context, token string) (*session.Resolved, error) {
	resolved, err := s.store.Find(ctx, token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if resolved.Session.IsExpired(now) {
		return nil, session.ErrSessionExpired()
	}

	resolved.Session.Refresh(now, s.cfg.InactivityWindow)
	if err := s.store.Touch(ctx, resolved.Session); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Revoke terminates a single session. Unknown tokens are not an error;
// logout is idempotent.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return s.store.Delete(ctx, token)
}

// RevokeAll terminates every session for the user and returns how many
// were terminated.
func (s *SessionService) RevokeAll(ctx context.Context, userID kernel.UserID) (int, error) {
	tokens, err := s.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// RevokeOthers terminates every session for the user except the current
// one. Used after password changes and MFA state transitions.
func (s *SessionService) RevokeOthers(ctx context.Context, userID kernel.UserID, keepToken string) (int, error) {
	tokens, err := s.store.DeleteByUserExcept(ctx, userID, keepToken)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ============================================================================
// Cleanup worker
// ============================================================================

// CleanupService sweeps expired sessions on an interval.
type CleanupService struct {
	store    session.Store
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewCleanupService creates the background sweeper.
func NewCleanupService(store session.Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (c *CleanupService) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stop:
				return
			}
		}
	}()
	logx.WithField("interval", c.interval.String()).Info("Session cleanup service started")
}

// Stop halts the sweep loop and waits for it to exit.
func (c *CleanupService) Stop() {
	close(c.stop)
	<-c.done
	logx.Info("Session cleanup service stopped")
}

func (c *CleanupService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := c.store.DeleteExpired(ctx)
	if err != nil {
		logx.WithError(err).Error("Session cleanup sweep failed")
		return
	}
	if deleted > 0 {
		logx.WithField("deleted", deleted).Info("Swept expired sessions")
	}
}
