package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/sdk/helper/locksutil"
	"github.com/hashicorp/vault/sdk/logical"
)

const sessionPrefix = "session/"

var (
	// ErrSessionNotFound is returned when a session id has no stored record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoCredentials is returned when a describe call is requested without a credential bundle.
	ErrNoCredentials = errors.New("no credential bundle; request a token first")
)

// selections are the current menu choices of one session.
type selections struct {
	TokenProject string `json:"token_project"`
	Portal       string `json:"portal"`
	Project      string `json:"project"`
}

// sessionRecord is everything the console keeps for a signed-in user.
type sessionRecord struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	IDToken    string    `json:"id_token,omitempty"`
	SignedInAt time.Time `json:"signed_in_at"`

	Selections selections `json:"selections"`

	Token   panelState        `json:"token"`
	Bundle  *CredentialBundle `json:"bundle,omitempty"`
	Portal  panelState        `json:"portal"`
	Project panelState        `json:"project"`
}

func newSessionRecord(id, user, idToken string, c *Config) *sessionRecord {
	return &sessionRecord{
		ID:         id,
		User:       user,
		IDToken:    idToken,
		SignedInAt: time.Now().UTC(),
		Selections: selections{
			TokenProject: c.ProjectID,
			Portal:       c.PortalID,
			Project:      c.ProjectID,
		},
		Token:   panelState{Status: StatusUnset},
		Portal:  panelState{Status: StatusUnset},
		Project: panelState{Status: StatusUnset},
	}
}

// anyLoading reports whether a panel is waiting on a call.
func (r *sessionRecord) anyLoading() bool {
	return r.Token.Status == StatusLoading ||
		r.Portal.Status == StatusLoading ||
		r.Project.Status == StatusLoading
}

// panel returns the describer panel for resource.
func (r *sessionRecord) panel(resource string) *panelState {
	if resource == resourceProject {
		return &r.Project
	}
	return &r.Portal
}

// sessionStore keeps session records in logical storage. Read-modify-write of
// one session is serialized by a striped lock keyed on the session id.
type sessionStore struct {
	storage logical.Storage
	locks   []*locksutil.LockEntry
}

func newSessionStore(s logical.Storage) *sessionStore {
	return &sessionStore{
		storage: s,
		locks:   locksutil.CreateLocks(),
	}
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

// get retrieves a session, returning ErrSessionNotFound when absent
func (s *sessionStore) get(ctx context.Context, id string) (*sessionRecord, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	lock := locksutil.LockForKey(s.locks, id)
	lock.RLock()
	defer lock.RUnlock()

	return s.read(ctx, id)
}

func (s *sessionStore) read(ctx context.Context, id string) (*sessionRecord, error) {
	entry, err := s.storage.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if entry == nil {
		return nil, ErrSessionNotFound
	}

	rec := &sessionRecord{}
	if err := entry.DecodeJSON(rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return rec, nil
}

func (s *sessionStore) write(ctx context.Context, rec *sessionRecord) error {
	entry, err := logical.StorageEntryJSON(sessionKey(rec.ID), rec)
	if err != nil {
		return fmt.Errorf("failed to create storage entry: %w", err)
	}

	if err := s.storage.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// put stores a session record
func (s *sessionStore) put(ctx context.Context, rec *sessionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("session id is required")
	}

	lock := locksutil.LockForKey(s.locks, rec.ID)
	lock.Lock()
	defer lock.Unlock()

	return s.write(ctx, rec)
}

// update applies fn to the stored session under its lock. Nothing is written
// when fn returns an error.
func (s *sessionStore) update(ctx context.Context, id string, fn func(*sessionRecord) error) (*sessionRecord, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	lock := locksutil.LockForKey(s.locks, id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// delete removes a session
func (s *sessionStore) delete(ctx context.Context, id string) error {
	lock := locksutil.LockForKey(s.locks, id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// list returns all session ids
func (s *sessionStore) list(ctx context.Context) ([]string, error) {
	keys, err := s.storage.List(ctx, sessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	ids := keys[:0]
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			ids = append(ids, k)
		}
	}

	return ids, nil
}
