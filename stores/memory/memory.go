// Package memory implements every authcore store interface in process
// memory. It backs the test suite and is fine for single-process
// deployments that can afford to lose state on restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harborsync/authcore"
)

// Store holds all state behind one mutex. It satisfies authcore's
// AccountStore, SessionStore, AuditStore, APIKeyStore, ChallengeStore,
// and Denylist interfaces.
type Store struct {
	mu sync.Mutex

	accounts map[string]*authcore.Account
	emails   map[string]string // tenant-scoped email -> account ID
	history  map[string][]authcore.PasswordHistoryEntry
	backup   map[string]map[[32]byte]struct{}

	sessions map[string]*authcore.Session

	events []*authcore.AuditEvent

	apikeys map[string]*authcore.APICredential
	lookups map[string]string // lookup fragment -> credential ID

	challenges map[string]challengeEntry

	denied map[string]time.Time // tokenID -> expiry
}

type challengeEntry struct {
	challenge authcore.TwoFactorChallenge
	expiresAt time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:   make(map[string]*authcore.Account),
		emails:     make(map[string]string),
		history:    make(map[string][]authcore.PasswordHistoryEntry),
		backup:     make(map[string]map[[32]byte]struct{}),
		sessions:   make(map[string]*authcore.Session),
		apikeys:    make(map[string]*authcore.APICredential),
		lookups:    make(map[string]string),
		challenges: make(map[string]challengeEntry),
		denied:     make(map[string]time.Time),
	}
}

func emailKey(tenantID, email string) string {
	return tenantID + "\x00" + strings.ToLower(email)
}

func cloneAccount(a *authcore.Account) *authcore.Account {
	c := *a
	c.TOTPSecret = append([]byte(nil), a.TOTPSecret...)
	c.VerifyTokenHash = append([]byte(nil), a.VerifyTokenHash...)
	c.ResetTokenHash = append([]byte(nil), a.ResetTokenHash...)
	return &c
}

func cloneSession(s *authcore.Session) *authcore.Session {
	c := *s
	return &c
}

func cloneCredential(c *authcore.APICredential) *authcore.APICredential {
	d := *c
	d.Scopes = append([]string(nil), c.Scopes...)
	return &d
}

// Create implements authcore.AccountStore. The initial password hash seeds
// the history.
func (s *Store) Create(ctx context.Context, account *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(account.TenantID, account.Email)
	if _, exists := s.emails[key]; exists {
		return authcore.ErrDuplicateAccount
	}
	if _, exists := s.accounts[account.ID]; exists {
		return authcore.ErrDuplicateAccount
	}
	s.accounts[account.ID] = cloneAccount(account)
	s.emails[key] = account.ID
	s.history[account.ID] = []authcore.PasswordHistoryEntry{{
		AccountID: account.ID,
		Hash:      account.PasswordHash,
		CreatedAt: account.CreatedAt,
	}}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *Store) GetByEmail(ctx context.Context, tenantID, email string) (*authcore.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[emailKey(tenantID, email)]
	if !ok {
		return nil, authcore.ErrAccountNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) Update(ctx context.Context, account *authcore.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; !ok {
		return authcore.ErrAccountNotFound
	}
	s.accounts[account.ID] = cloneAccount(account)
	return nil
}

// UpdatePassword sets the new hash, appends it to the history, and trims
// the history to retain entries, all under one lock.
func (s *Store) UpdatePassword(ctx context.Context, accountID, newHash string, retain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return authcore.ErrAccountNotFound
	}
	now := time.Now().UTC()
	account.PasswordHash = newHash
	account.UpdatedAt = now

	entries := append(s.history[accountID], authcore.PasswordHistoryEntry{
		AccountID: accountID,
		Hash:      newHash,
		CreatedAt: now,
	})
	if retain > 0 && len(entries) > retain {
		entries = entries[len(entries)-retain:]
	}
	s.history[accountID] = entries
	return nil
}

// PasswordHistory returns up to limit entries, newest first.
func (s *Store) PasswordHistory(ctx context.Context, accountID string, limit int) ([]authcore.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, authcore.ErrAccountNotFound
	}
	entries := s.history[accountID]
	out := make([]authcore.PasswordHistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return authcore.ErrAccountNotFound
	}
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	s.backup[accountID] = set
	return nil
}

func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.backup[accountID]
	if !ok {
		return false, nil
	}
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

// Adapters ---------------------------------------------------------------
//
// SessionStore's and APIKeyStore's Create signatures clash with
// AccountStore's, so those two interfaces are exposed through thin views
// over the same Store rather than on Store itself.

// Accounts returns the Store as an authcore.AccountStore.
func (s *Store) Accounts() authcore.AccountStore { return (*accountStore)(s) }

// Sessions returns the Store as an authcore.SessionStore.
func (s *Store) Sessions() authcore.SessionStore { return (*sessionStore)(s) }

// APIKeys returns the Store as an authcore.APIKeyStore.
func (s *Store) APIKeys() authcore.APIKeyStore { return (*apiKeyStore)(s) }

type accountStore Store

func (s *accountStore) Create(ctx context.Context, account *authcore.Account) error {
	return (*Store)(s).Create(ctx, account)
}
func (s *accountStore) GetByID(ctx context.Context, id string) (*authcore.Account, error) {
	return (*Store)(s).GetByID(ctx, id)
}
func (s *accountStore) GetByEmail(ctx context.Context, tenantID, email string) (*authcore.Account, error) {
	return (*Store)(s).GetByEmail(ctx, tenantID, email)
}
func (s *accountStore) Update(ctx context.Context, account *authcore.Account) error {
	return (*Store)(s).Update(ctx, account)
}
func (s *accountStore) UpdatePassword(ctx context.Context, accountID, newHash string, retain int) error {
	return (*Store)(s).UpdatePassword(ctx, accountID, newHash, retain)
}
func (s *accountStore) PasswordHistory(ctx context.Context, accountID string, limit int) ([]authcore.PasswordHistoryEntry, error) {
	return (*Store)(s).PasswordHistory(ctx, accountID, limit)
}
func (s *accountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	return (*Store)(s).ReplaceBackupCodes(ctx, accountID, hashes)
}
func (s *accountStore) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	return (*Store)(s).ConsumeBackupCode(ctx, accountID, hash)
}

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, session *authcore.Session) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *sessionStore) GetByID(ctx context.Context, id string) (*authcore.Session, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[id]
	if !ok {
		return nil, authcore.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *sessionStore) ListActive(ctx context.Context, accountID string, now time.Time) ([]*authcore.Session, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*authcore.Session
	for _, session := range st.sessions {
		if session.AccountID == accountID && session.Active(now) {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

func (s *sessionStore) Rotate(ctx context.Context, id, tokenHash string, lastActive, expires time.Time) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[id]
	if !ok {
		return authcore.ErrSessionNotFound
	}
	session.TokenHash = tokenHash
	session.LastActiveAt = lastActive
	session.ExpiresAt = expires
	return nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return authcore.ErrSessionNotFound
	}
	delete(st.sessions, id)
	return nil
}

func (s *sessionStore) RevokeAll(ctx context.Context, accountID string) (int, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, session := range st.sessions {
		if session.AccountID == accountID {
			delete(st.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *sessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, session := range st.sessions {
		if !session.Active(now) {
			delete(st.sessions, id)
			n++
		}
	}
	return n, nil
}

// Audit ------------------------------------------------------------------

// Insert implements authcore.AuditStore.
func (s *Store) Insert(ctx context.Context, event *authcore.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events = append(s.events, &copied)
	return nil
}

// FilterByAccount returns the newest events for accountID, up to limit.
func (s *Store) FilterByAccount(ctx context.Context, accountID string, limit int) ([]*authcore.AuditEvent, error) {
	return s.filter(func(e *authcore.AuditEvent) bool { return e.AccountID == accountID }, limit)
}

// FilterByAction returns the newest events with the given action, up to
// limit.
func (s *Store) FilterByAction(ctx context.Context, action string, limit int) ([]*authcore.AuditEvent, error) {
	return s.filter(func(e *authcore.AuditEvent) bool { return e.Action == action }, limit)
}

func (s *Store) filter(keep func(*authcore.AuditEvent) bool, limit int) ([]*authcore.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*authcore.AuditEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if keep(s.events[i]) {
			copied := *s.events[i]
			out = append(out, &copied)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// API keys ---------------------------------------------------------------

type apiKeyStore Store

func (s *apiKeyStore) Create(ctx context.Context, cred *authcore.APICredential) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.apikeys[cred.ID] = cloneCredential(cred)
	st.lookups[cred.Lookup] = cred.ID
	return nil
}

func (s *apiKeyStore) GetByLookup(ctx context.Context, lookup string) (*authcore.APICredential, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.lookups[lookup]
	if !ok {
		return nil, authcore.ErrAPIKeyNotFound
	}
	return cloneCredential(st.apikeys[id]), nil
}

func (s *apiKeyStore) ListByAccount(ctx context.Context, accountID string) ([]*authcore.APICredential, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []*authcore.APICredential
	for _, cred := range st.apikeys {
		if cred.AccountID == accountID {
			out = append(out, cloneCredential(cred))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *apiKeyStore) TouchUsed(ctx context.Context, id string, at time.Time) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	cred, ok := st.apikeys[id]
	if !ok {
		return authcore.ErrAPIKeyNotFound
	}
	cred.LastUsedAt = at
	return nil
}

func (s *apiKeyStore) Revoke(ctx context.Context, id string) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	cred, ok := st.apikeys[id]
	if !ok {
		return authcore.ErrAPIKeyNotFound
	}
	delete(st.lookups, cred.Lookup)
	delete(st.apikeys, id)
	return nil
}

// Challenges -------------------------------------------------------------

// Save implements authcore.ChallengeStore.
func (s *Store) Save(ctx context.Context, id string, challenge *authcore.TwoFactorChallenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[id] = challengeEntry{
		challenge: *challenge,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get implements authcore.ChallengeStore.
func (s *Store) Get(ctx context.Context, id string) (*authcore.TwoFactorChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.challenges[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.challenges, id)
		return nil, authcore.ErrChallengeNotFound
	}
	copied := entry.challenge
	return &copied, nil
}

// IncrementAttempts implements authcore.ChallengeStore.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.challenges[id]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.challenges, id)
		return 0, authcore.ErrChallengeNotFound
	}
	entry.challenge.Attempts++
	s.challenges[id] = entry
	return entry.challenge.Attempts, nil
}

// Delete implements authcore.ChallengeStore. Reports whether the
// challenge existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.challenges[id]
	delete(s.challenges, id)
	return ok, nil
}

// Denylist ---------------------------------------------------------------

// Revoke implements authcore.Denylist.
func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[tokenID] = time.Now().Add(ttl)
	return nil
}

// IsRevoked implements authcore.Denylist.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.denied[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(s.denied, tokenID)
		return false, nil
	}
	return true, nil
}
