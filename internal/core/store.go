package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"docongo/pkg"
	"docongo/pkg/errs"
)

// SessionStore is the durable keyed state behind the orchestrator and the
// prescription synthesizer.  Implementations must be safe for concurrent
// use; ordinary turn updates are last-write-wins, but SetPrescriptionIfAbsent
// must be atomic so two racing synthesizers agree on a single artifact.
type SessionStore interface {
	// GetOrCreate loads the session, creating it with the given seed system
	// turn when absent.  The second result reports whether a new session
	// was created.
	GetOrCreate(ctx context.Context, sessionID string, seed pkg.Turn) (*pkg.Session, bool, error)

	// Get loads an existing session or returns errs.ErrNotFound.
	Get(ctx context.Context, sessionID string) (*pkg.Session, error)

	// AppendTurns appends turns to the transcript.  Transcripts are never
	// truncated or rewritten.
	AppendTurns(ctx context.Context, sessionID string, turns ...pkg.Turn) error

	// UpdateState persists the reconciled stage and full symptom set.  The
	// title is written only when the session does not have one yet.
	UpdateState(ctx context.Context, sessionID, stage string, symptoms []string, title string) error

	// SetPrescriptionIfAbsent installs the prescription unless one is
	// already cached.  It reports whether this call won, and returns the
	// prescription now on the session either way.
	SetPrescriptionIfAbsent(ctx context.Context, sessionID string, p pkg.Prescription) (bool, *pkg.Prescription, error)

	// Delete removes the session.  Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, sessionID string) error

	// ClaimOwner binds an anonymous session to the account.  Claiming a
	// session already owned by a different account fails with errs.ErrAuth.
	ClaimOwner(ctx context.Context, sessionID, ownerRef string) error

	// ListByOwner returns previews of the account's sessions, most recently
	// updated first.
	ListByOwner(ctx context.Context, ownerRef string) ([]pkg.SessionPreview, error)

	// Rename sets the session title.
	Rename(ctx context.Context, sessionID, title string) error
}

// MemoryStore is an in-memory SessionStore.  It backs the unit tests and
// the no-database development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*pkg.Session
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*pkg.Session)}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, sessionID string, seed pkg.Turn) (*pkg.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return copySession(s), false, nil
	}

	now := time.Now().UTC()
	s := &pkg.Session{
		SessionID:        sessionID,
		Stage:            FirstStage(),
		Transcript:       []pkg.Turn{seed},
		DetectedSymptoms: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.sessions[sessionID] = s
	return copySession(s), true, nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*pkg.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	return copySession(s), nil
}

func (m *MemoryStore) AppendTurns(_ context.Context, sessionID string, turns ...pkg.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	s.Transcript = append(s.Transcript, turns...)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) UpdateState(_ context.Context, sessionID, stage string, symptoms []string, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	s.Stage = stage
	s.DetectedSymptoms = append([]string(nil), symptoms...)
	if s.Title == "" && title != "" {
		s.Title = title
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetPrescriptionIfAbsent(_ context.Context, sessionID string, p pkg.Prescription) (bool, *pkg.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false, nil, errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	if s.HasPrescription() {
		cached := *s.Prescription
		return false, &cached, nil
	}
	stored := p
	s.Prescription = &stored
	s.UpdatedAt = time.Now().UTC()
	won := *s.Prescription
	return true, &won, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) ClaimOwner(_ context.Context, sessionID, ownerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	switch s.OwnerRef {
	case "", ownerRef:
		s.OwnerRef = ownerRef
		s.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return errors.Wrapf(errs.ErrAuth, "session %s belongs to another account", sessionID)
	}
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerRef string) ([]pkg.SessionPreview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	previews := make([]pkg.SessionPreview, 0, 8)
	for _, s := range m.sessions {
		if s.OwnerRef != ownerRef {
			continue
		}
		previews = append(previews, pkg.SessionPreview{
			SessionID:       s.SessionID,
			Title:           s.Title,
			Stage:           s.Stage,
			MessageCount:    s.MessageCount(),
			HasPrescription: s.HasPrescription(),
			UpdatedAt:       s.UpdatedAt,
		})
	}
	sort.Slice(previews, func(i, j int) bool {
		return previews[i].UpdatedAt.After(previews[j].UpdatedAt)
	})
	return previews, nil
}

func (m *MemoryStore) Rename(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return errors.Wrapf(errs.ErrNotFound, "session %s", sessionID)
	}
	s.Title = title
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// copySession returns a deep enough copy that callers cannot mutate stored
// state through the returned pointer.
func copySession(s *pkg.Session) *pkg.Session {
	out := *s
	out.Transcript = append([]pkg.Turn(nil), s.Transcript...)
	out.DetectedSymptoms = append([]string(nil), s.DetectedSymptoms...)
	if s.Prescription != nil {
		p := *s.Prescription
		p.Payload = append([]byte(nil), s.Prescription.Payload...)
		out.Prescription = &p
	}
	return &out
}
