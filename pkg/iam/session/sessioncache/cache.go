// Package sessioncache decora un session.Store con una caché write-through.
// La caché es una optimización: cualquier fallo de caché degrada al almacén
// interior sin afectar la corrección.
package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Abraxas-365/bastion/pkg/cachex"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

const keyPrefix = "session:"

// CachingStore implementa session.Store delegando en un almacén interior y
// cacheando las resoluciones por token. El TTL de cada entrada es la vida
// absoluta restante de la sesión, de modo que una entrada nunca sobrevive
// a su sesión.
type CachingStore struct {
	inner session.Store
	cache cachex.Cache
}

// NewCachingStore compone el decorador sobre el almacén interior.
func NewCachingStore(inner session.Store, cache cachex.Cache) session.Store {
	return &CachingStore{inner: inner, cache: cache}
}

func cacheKey(token string) string {
	return keyPrefix + token
}

// Create persiste en el almacén interior y puebla la caché.
func (s *CachingStore) Create(ctx context.Context, sess session.Session) error {
	if err := s.inner.Create(ctx, sess); err != nil {
		return err
	}
	// La entrada se poblará en el primer Find; basta con asegurar que no
	// quede una entrada obsoleta bajo el mismo token.
	s.invalidate(ctx, sess.Token)
	return nil
}

// Find resuelve primero desde la caché y degrada al almacén interior.
func (s *CachingStore) Find(ctx context.Context, token string) (*session.Resolved, error) {
	if resolved := s.lookup(ctx, token); resolved != nil {
		if resolved.Session.IsExpired(time.Now().UTC()) {
			s.invalidate(ctx, token)
			return nil, session.ErrSessionExpired()
		}
		return resolved, nil
	}

	resolved, err := s.inner.Find(ctx, token)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, resolved)
	return resolved, nil
}

// Touch actualiza el almacén interior e invalida la entrada cacheada para
// que el próximo Find observe el vencimiento fresco.
func (s *CachingStore) Touch(ctx context.Context, sess session.Session) error {
	if err := s.inner.Touch(ctx, sess); err != nil {
		return err
	}
	s.invalidate(ctx, sess.Token)
	return nil
}

// Delete elimina del almacén interior y de la caché.
func (s *CachingStore) Delete(ctx context.Context, token string) error {
	if err := s.inner.Delete(ctx, token); err != nil {
		return err
	}
	s.invalidate(ctx, token)
	return nil
}

// DeleteByUser elimina todas las sesiones del usuario e invalida cada
// token eliminado.
func (s *CachingStore) DeleteByUser(ctx context.Context, userID kernel.UserID) ([]string, error) {
	tokens, err := s.inner.DeleteByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, token := range tokens {
		s.invalidate(ctx, token)
	}
	return tokens, nil
}

// DeleteByUserExcept elimina todas las sesiones del usuario salvo una e
// invalida cada token eliminado.
func (s *CachingStore) DeleteByUserExcept(ctx context.Context, userID kernel.UserID, keepToken string) ([]string, error) {
	tokens, err := s.inner.DeleteByUserExcept(ctx, userID, keepToken)
	if err != nil {
		return nil, err
	}
	for _, token := range tokens {
		s.invalidate(ctx, token)
	}
	return tokens, nil
}

// DeleteExpired delega en el almacén interior. Las entradas cacheadas de
// sesiones vencidas expiran solas por TTL y el chequeo de Find.
func (s *CachingStore) DeleteExpired(ctx context.Context) (int64, error) {
	return s.inner.DeleteExpired(ctx)
}

func (s *CachingStore) lookup(ctx context.Context, token string) *session.Resolved {
	raw, err := s.cache.Get(ctx, cacheKey(token))
	if err != nil {
		if !errors.Is(err, cachex.ErrMiss) {
			logx.WithError(err).Warn("session cache lookup failed, falling back to store")
		}
		return nil
	}

	var resolved session.Resolved
	if err := json.Unmarshal([]byte(raw), &resolved); err != nil {
		logx.WithError(err).Warn("corrupt session cache entry, dropping")
		s.invalidate(ctx, token)
		return nil
	}
	return &resolved
}

func (s *CachingStore) populate(ctx context.Context, resolved *session.Resolved) {
	ttl := resolved.Session.RemainingAbsolute(time.Now().UTC())
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(resolved)
	if err != nil {
		logx.WithError(err).Warn("failed to serialize session for cache")
		return
	}
	if err := s.cache.Set(ctx, cacheKey(resolved.Session.Token), string(raw), ttl); err != nil {
		logx.WithError(err).Warn("failed to populate session cache")
	}
}

func (s *CachingStore) invalidate(ctx context.Context, token string) {
	if err := s.cache.Delete(ctx, cacheKey(token)); err != nil && !errors.Is(err, cachex.ErrMiss) {
		logx.WithError(err).Warn("failed to invalidate session cache entry")
	}
}
