package sessioncache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/bastion/pkg/cachex/cachexredis"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioncache"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

const (
	testUser   = kernel.UserID("user-1")
	testTenant = kernel.TenantID("8a3e0c4e-3f2a-4f0e-9b6d-2f1a5c7d9e1b")
)

// memStore is an in-memory session.Store that counts Find calls so tests
// can tell cache hits from store hits.
type memStore struct {
	sessions map[string]session.Session
	finds    int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]session.Session)}
}

func (m *memStore) Create(_ context.Context, s session.Session) error {
	m.sessions[s.Token] = s
	return nil
}

func (m *memStore) Find(_ context.Context, token string) (*session.Resolved, error) {
	m.finds++
	s, ok := m.sessions[token]
	if !ok {
		return nil, session.ErrSessionNotFound()
	}
	if s.IsExpired(time.Now().UTC()) {
		return nil, session.ErrSessionExpired()
	}
	return &session.Resolved{
		Session:   s,
		Principal: session.Principal{UserID: s.UserID, TenantID: s.TenantID, Email: "a@b.co", Role: kernel.RoleMember},
	}, nil
}

func (m *memStore) Touch(_ context.Context, s session.Session) error {
	stored, ok := m.sessions[s.Token]
	if !ok {
		return session.ErrSessionNotFound()
	}
	stored.ExpiresAt = s.ExpiresAt
	m.sessions[s.Token] = stored
	return nil
}

func (m *memStore) Delete(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

func (m *memStore) DeleteByUser(_ context.Context, userID kernel.UserID) ([]string, error) {
	var tokens []string
	for token, s := range m.sessions {
		if s.UserID == userID {
			tokens = append(tokens, token)
			delete(m.sessions, token)
		}
	}
	return tokens, nil
}

func (m *memStore) DeleteByUserExcept(_ context.Context, userID kernel.UserID, keepToken string) ([]string, error) {
	var tokens []string
	for token, s := range m.sessions {
		if s.UserID == userID && token != keepToken {
			tokens = append(tokens, token)
			delete(m.sessions, token)
		}
	}
	return tokens, nil
}

func (m *memStore) DeleteExpired(_ context.Context) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for token, s := range m.sessions {
		if s.IsExpired(now) {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

func newSession(token string) session.Session {
	now := time.Now().UTC()
	return session.Session{
		Token:             token,
		UserID:            testUser,
		TenantID:          testTenant,
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
		AbsoluteExpiresAt: now.Add(30 * 24 * time.Hour),
	}
}

func setup(t *testing.T) (*memStore, session.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := newMemStore()
	return inner, sessioncache.NewCachingStore(inner, cachexredis.NewRedisCache(client)), mr
}

func TestFind_PopulatesAndServesFromCache(t *testing.T) {
	inner, store, _ := setup(t)
	ctx := context.Background()

	if err := store.Create(ctx, newSession("tok-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := store.Find(ctx, "tok-1")
	if err != nil {
		t.Fatalf("first find failed: %v", err)
	}
	if first.Principal.TenantID != testTenant {
		t.Fatalf("principal snapshot missing, got %+v", first.Principal)
	}
	if inner.finds != 1 {
		t.Fatalf("first find must hit the store, finds=%d", inner.finds)
	}

	second, err := store.Find(ctx, "tok-1")
	if err != nil {
		t.Fatalf("second find failed: %v", err)
	}
	if inner.finds != 1 {
		t.Fatalf("second find must be served from cache, finds=%d", inner.finds)
	}
	if second.Session.Token != "tok-1" || second.Principal.UserID != testUser {
		t.Fatalf("cached resolution differs: %+v", second)
	}
}

func TestTouch_InvalidatesCache(t *testing.T) {
	inner, store, _ := setup(t)
	ctx := context.Background()

	sess := newSession("tok-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Find(ctx, "tok-1"); err != nil {
		t.Fatalf("find failed: %v", err)
	}

	sess.ExpiresAt = sess.ExpiresAt.Add(time.Hour)
	if err := store.Touch(ctx, sess); err != nil {
		t.Fatalf("touch failed: %v", err)
	}

	resolved, err := store.Find(ctx, "tok-1")
	if err != nil {
		t.Fatalf("find after touch failed: %v", err)
	}
	if !resolved.Session.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatal("find after touch must observe the refreshed deadline")
	}
	if inner.finds != 2 {
		t.Fatalf("touch must invalidate the cached entry, finds=%d", inner.finds)
	}
}

func TestDeleteByUser_CacheCoherence(t *testing.T) {
	_, store, _ := setup(t)
	ctx := context.Background()

	for _, token := range []string{"tok-1", "tok-2", "tok-3"} {
		if err := store.Create(ctx, newSession(token)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if _, err := store.Find(ctx, token); err != nil {
			t.Fatalf("warm-up find failed: %v", err)
		}
	}

	tokens, err := store.DeleteByUser(ctx, testUser)
	if err != nil {
		t.Fatalf("delete by user failed: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 deleted sessions, got %d", len(tokens))
	}

	// Every previously valid token must now resolve to not found, whether
	// the answer comes from the cache or the store.
	for _, token := range []string{"tok-1", "tok-2", "tok-3"} {
		if _, err := store.Find(ctx, token); !errx.IsCode(err, session.CodeNotFound) {
			t.Fatalf("token %s must be gone after rotation, got %v", token, err)
		}
	}
}

func TestDeleteByUserExcept_KeepsCurrent(t *testing.T) {
	_, store, _ := setup(t)
	ctx := context.Background()

	for _, token := range []string{"keep", "drop-1", "drop-2"} {
		if err := store.Create(ctx, newSession(token)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	tokens, err := store.DeleteByUserExcept(ctx, testUser, "keep")
	if err != nil {
		t.Fatalf("delete others failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 deleted sessions, got %d", len(tokens))
	}
	if _, err := store.Find(ctx, "keep"); err != nil {
		t.Fatalf("current session must survive: %v", err)
	}
	if _, err := store.Find(ctx, "drop-1"); err == nil {
		t.Fatal("other sessions must be gone")
	}
}

func TestFind_FallsBackWhenCacheDown(t *testing.T) {
	inner, store, mr := setup(t)
	ctx := context.Background()

	if err := inner.Create(ctx, newSession("tok-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mr.Close()

	resolved, err := store.Find(ctx, "tok-1")
	if err != nil {
		t.Fatalf("find must degrade to the store when the cache is down: %v", err)
	}
	if resolved.Session.Token != "tok-1" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
}

func TestFind_ExpiredCachedEntry(t *testing.T) {
	inner, store, _ := setup(t)
	ctx := context.Background()

	sess := newSession("tok-1")
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Find(ctx, "tok-1"); err != nil {
		t.Fatalf("warm-up find failed: %v", err)
	}

	// Force the durable copy past its sliding deadline and re-cache it.
	expired := sess
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	inner.sessions["tok-1"] = expired
	if err := store.Touch(ctx, expired); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if _, err := store.Find(ctx, "tok-1"); !errx.IsCode(err, session.CodeExpired) {
		t.Fatalf("expired session must not resolve, got %v", err)
	}
}
