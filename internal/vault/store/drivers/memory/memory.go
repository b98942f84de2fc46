// Package memory provides an in-memory Store driver. It is the default for
// tests and single-process deployments; every repository shares one mutex
// so the compare-and-swap operations are trivially atomic.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quollsec/strongbox/internal/vault/domain"
	"github.com/quollsec/strongbox/internal/vault/store"
)

type Store struct {
	mu sync.Mutex

	users       map[string]domain.User   // by id
	usernames   map[string]string        // username -> id
	credentials []domain.WebAuthnCredential
	sessions    map[string]domain.Session
	objects     map[string]domain.VaultObject
}

func NewStore() *Store {
	return &Store{
		users:     make(map[string]domain.User),
		usernames: make(map[string]string),
		sessions:  make(map[string]domain.Session),
		objects:   make(map[string]domain.VaultObject),
	}
}

func (s *Store) Users() store.Users             { return (*usersRepo)(s) }
func (s *Store) Credentials() store.Credentials { return (*credentialsRepo)(s) }
func (s *Store) Sessions() store.Sessions       { return (*sessionsRepo)(s) }
func (s *Store) Objects() store.Objects         { return (*objectsRepo)(s) }

func (s *Store) ApplyMigrations() error       { return nil }
func (s *Store) Close() error                 { return nil }
func (s *Store) Ping(_ context.Context) error { return nil }

// --- users ---

type usersRepo Store

func (r *usersRepo) CreateUser(_ context.Context, u domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.usernames[u.Username]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := r.users[u.ID]; ok {
		return store.ErrAlreadyExists
	}
	r.users[u.ID] = u
	r.usernames[u.Username] = u.ID
	return nil
}

func (r *usersRepo) GetUserByID(_ context.Context, id string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *usersRepo) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usernames[username]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return r.users[id], nil
}

func (r *usersRepo) UpdateTOTPSecret(_ context.Context, userID string, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.TOTPSecret = &secret
	u.UpdatedAt = time.Now().UTC()
	r.users[userID] = u
	return nil
}

func (r *usersRepo) EnableTOTP(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	u.TOTPEnabled = &now
	u.UpdatedAt = now
	r.users[userID] = u
	return nil
}

// --- webauthn credentials ---

type credentialsRepo Store

func (r *credentialsRepo) AddCredential(_ context.Context, c domain.WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.credentials {
		if bytes.Equal(existing.CredentialID, c.CredentialID) {
			return store.ErrAlreadyExists
		}
	}
	r.credentials = append(r.credentials, c)
	return nil
}

func (r *credentialsRepo) ListCredentials(_ context.Context, userID string) ([]domain.WebAuthnCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.WebAuthnCredential
	for _, c := range r.credentials {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *credentialsRepo) UpdateSignCount(_ context.Context, credentialID []byte, newCount uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.credentials {
		if !bytes.Equal(c.CredentialID, credentialID) {
			continue
		}
		if newCount <= c.SignCount {
			return store.ErrConflict
		}
		r.credentials[i].SignCount = newCount
		return nil
	}
	return store.ErrNotFound
}

// --- sessions ---

type sessionsRepo Store

func (r *sessionsRepo) CreateSession(_ context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return store.ErrAlreadyExists
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *sessionsRepo) GetSession(_ context.Context, id string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, store.ErrNotFound
	}
	// Copy the challenge so callers never observe later mutations made
	// under the store mutex, such as ConsumeChallenge flipping Consumed.
	if s.Challenge != nil {
		ch := *s.Challenge
		s.Challenge = &ch
	}
	return s, nil
}

func (r *sessionsRepo) UpdateState(_ context.Context, id string, state domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.State = state
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *sessionsRepo) SetChallenge(_ context.Context, id string, ch domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Challenge = &ch
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *sessionsRepo) ConsumeChallenge(_ context.Context, id string) (domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Challenge{}, store.ErrNotFound
	}
	if s.Challenge == nil {
		return domain.Challenge{}, store.ErrNotFound
	}
	if s.Challenge.Consumed {
		return domain.Challenge{}, store.ErrConflict
	}

	ch := *s.Challenge
	s.Challenge.Consumed = true
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return ch, nil
}

func (r *sessionsRepo) Reset(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.State = domain.Unauthenticated
	s.Challenge = nil
	s.UpdatedAt = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *sessionsRepo) DeleteSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

func (r *sessionsRepo) DeleteExpiredSessions(_ context.Context, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
		}
	}
	return nil
}

// --- vault objects ---

type objectsRepo Store

func (r *objectsRepo) CreateObject(_ context.Context, o domain.VaultObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[o.ID]; ok {
		return store.ErrAlreadyExists
	}
	r.objects[o.ID] = o
	return nil
}

func (r *objectsRepo) GetObject(_ context.Context, id string) (domain.VaultObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.objects[id]
	if !ok {
		return domain.VaultObject{}, store.ErrNotFound
	}
	return o, nil
}

func (r *objectsRepo) DeleteObject(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.objects, id)
	return nil
}

func (r *objectsRepo) ListObjectsByOwner(_ context.Context, owner string) ([]domain.ObjectSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ObjectSummary
	for _, o := range r.objects {
		if o.Owner == owner {
			out = append(out, domain.ObjectSummary{
				ID:        o.ID,
				Filename:  o.Filename,
				CreatedAt: o.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
