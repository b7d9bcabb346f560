package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/repo/postgres"
	"github.com/rolesync/rolesync/pkg/logger"
)

// Store is the durable email -> member id mapping behind every verify,
// unverify and webhook dispatch. It is a write-through cache: mutations
// update the in-memory mapping synchronously, then rewrite the snapshot
// file wholesale and sweep every entry into the durable store. A failed
// upsert for one entry never aborts the sweep for the others; the next
// mutation retries the whole mapping, which is what heals a transiently
// unavailable store.
//
// Mutations for the same email are serialized with a per-key mutex so
// concurrent link/unlink races cannot lose updates.
type Store struct {
	repo         postgres.IdentityRepository
	snapshotPath string

	mu    sync.RWMutex
	cache map[string]string

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

func NewStore(repo postgres.IdentityRepository, snapshotPath string) *Store {
	return &Store{
		repo:         repo,
		snapshotPath: snapshotPath,
		cache:        make(map[string]string),
		keys:         make(map[string]*sync.Mutex),
	}
}

// Reload rehydrates the cache from the snapshot file. An absent or corrupt
// file is not a startup failure: the store initializes an empty mapping and
// persists it immediately.
func (s *Store) Reload(ctx context.Context) error {
	data, err := os.ReadFile(s.snapshotPath)
	if err == nil {
		var snapshot map[string]string
		if jsonErr := json.Unmarshal(data, &snapshot); jsonErr == nil && snapshot != nil {
			s.mu.Lock()
			s.cache = snapshot
			s.mu.Unlock()
			logger.InfoContext(ctx, "Identity snapshot loaded", "path", s.snapshotPath, "entries", len(snapshot))
			return nil
		}
		logger.WarnContext(ctx, "Identity snapshot corrupt, starting empty", "path", s.snapshotPath)
	} else if !os.IsNotExist(err) {
		logger.WarnContext(ctx, "Identity snapshot unreadable, starting empty", "path", s.snapshotPath, "error", err)
	}

	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// Link upserts the email -> memberID mapping. Re-linking the same pair is a
// no-op; a different member id for an existing email overwrites it
// (last writer wins).
func (s *Store) Link(ctx context.Context, email, memberID string) error {
	email = domain.NormalizeEmail(email)
	if !domain.IsValidEmail(email) {
		return fmt.Errorf("invalid email address")
	}
	if memberID == "" {
		return fmt.Errorf("member id is required")
	}

	unlock := s.lockKey(email)
	defer unlock()

	s.mu.Lock()
	if existing, ok := s.cache[email]; ok && existing == memberID {
		s.mu.Unlock()
		return nil
	}
	s.cache[email] = memberID
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// Unlink deletes the mapping for email, but only when the stored member id
// matches the caller's. Anything else, including an email that was never
// linked, is an authorization mismatch and leaves the store untouched.
func (s *Store) Unlink(ctx context.Context, email, memberID string) error {
	email = domain.NormalizeEmail(email)

	unlock := s.lockKey(email)
	defer unlock()

	s.mu.Lock()
	existing, ok := s.cache[email]
	if !ok || existing != memberID {
		s.mu.Unlock()
		return domain.ErrAuthorizationMismatch
	}
	delete(s.cache, email)
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, email); err != nil {
		logger.ErrorContext(ctx, "Durable store delete failed, will not resurrect from sweep",
			"email", email, "error", err)
	}

	s.persist(ctx)
	return nil
}

// Lookup resolves an email to a member id. The cache answers first; on a
// miss the durable store is consulted and a hit is healed back into the
// cache, since the store is the source of truth on mismatch.
func (s *Store) Lookup(ctx context.Context, email string) (string, bool) {
	email = domain.NormalizeEmail(email)

	s.mu.RLock()
	memberID, ok := s.cache[email]
	s.mu.RUnlock()
	if ok {
		return memberID, true
	}

	rec, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		logger.WarnContext(ctx, "Durable store lookup failed", "email", email, "error", err)
		return "", false
	}
	if rec == nil {
		return "", false
	}

	s.mu.Lock()
	s.cache[email] = rec.MemberID
	s.mu.Unlock()
	return rec.MemberID, true
}

// Snapshot returns a copy of the current mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.cache))
	for email, memberID := range s.cache {
		out[email] = memberID
	}
	return out
}

// SnapshotPath returns the location of the snapshot file for /backup.
func (s *Store) SnapshotPath() string {
	return s.snapshotPath
}

// persist rewrites the snapshot file wholesale, then upserts every entry
// into the durable store. Failures are logged as persistence failures and
// never surfaced: the in-memory result already granted to the caller
// stands, and the next sweep self-heals.
func (s *Store) persist(ctx context.Context) {
	snapshot := s.Snapshot()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		logger.ErrorContext(ctx, "Snapshot marshal failed", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		logger.ErrorContext(ctx, "Snapshot directory create failed", "path", s.snapshotPath, "error", err)
	} else if err := os.WriteFile(s.snapshotPath, data, 0o644); err != nil {
		logger.ErrorContext(ctx, "Snapshot write failed", "path", s.snapshotPath, "error", err)
	}

	for email, memberID := range snapshot {
		if err := s.repo.Upsert(ctx, email, memberID); err != nil {
			logger.ErrorContext(ctx, "Durable store resync failed for entry",
				"email", email, "error", fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err))
		}
	}
}

func (s *Store) lockKey(email string) func() {
	s.keysMu.Lock()
	m, ok := s.keys[email]
	if !ok {
		m = &sync.Mutex{}
		s.keys[email] = m
	}
	s.keysMu.Unlock()

	m.Lock()
	return m.Unlock
}
