// Package session holds the ephemeral session registry. It is an in-memory
// liveness aid only: it does not survive a restart and is never consulted
// for authorization decisions, which belong to token verification.
package session

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Session is one live handle-to-user binding.
type Session struct {
	ID             string
	UserID         string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Registry maps random handles to authenticated users with idle-TTL expiry.
type Registry struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewRegistry builds a registry whose entries expire after idleTTL without
// access. The sweep interval only bounds memory; expired entries are
// already invisible to Get.
func NewRegistry(idleTTL time.Duration) *Registry {
	return &Registry{
		cache: gocache.New(idleTTL, time.Minute),
		ttl:   idleTTL,
	}
}

// Create registers a new session for a user and returns its handle.
func (r *Registry) Create(userID string) Session {
	now := time.Now().UTC()
	s := Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	r.cache.Set(s.ID, s, r.ttl)
	return s
}

// Get returns the session for a handle, refreshing its idle window. A
// missing or expired handle returns ok=false; that is "no session", not an
// error.
func (r *Registry) Get(handle string) (Session, bool) {
	v, ok := r.cache.Get(handle)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	if !ok {
		return Session{}, false
	}

	s.LastAccessedAt = time.Now().UTC()
	r.cache.Set(handle, s, r.ttl) // sliding expiry
	return s, true
}

// Delete removes one handle. Unknown handles are a no-op.
func (r *Registry) Delete(handle string) {
	r.cache.Delete(handle)
}

// DeleteForUser removes every session belonging to a user. Invoked on
// login, logout and password change so a user's session set is invalidated
// as a whole.
func (r *Registry) DeleteForUser(userID string) {
	for handle, item := range r.cache.Items() {
		if s, ok := item.Object.(Session); ok && s.UserID == userID {
			r.cache.Delete(handle)
		}
	}
}

// Len reports the number of live sessions (expired-but-unswept excluded by
// go-cache's ItemCount approximation; used for observability only).
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}
