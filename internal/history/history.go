package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"classattend/internal/metrics"
	"classattend/internal/model"
	"classattend/internal/store"
)

// Key is the document key the history is persisted under.
const Key = "attendanceHistory"

// Store is the list of finalized sessions, newest first.
type Store struct {
	kv  store.KV
	log *slog.Logger
	now func() time.Time

	writeMu  sync.Mutex
	mu       sync.RWMutex
	sessions []model.Session
}

// Load reads the persisted history once; an unreadable history starts empty.
func Load(ctx context.Context, kv store.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, log: logger.With("component", "history"), now: time.Now}

	var stored []model.Session
	if _, err := store.LoadJSON(ctx, kv, Key, &stored); err != nil {
		s.log.Error("could not load attendance history, starting empty", "error", err)
		stored = nil
	}
	s.sessions = stored
	return s
}

// Add records a finalized session and returns it.
func (s *Store) Add(ctx context.Context, mode model.Mode, entries []model.Entry) model.Session {
	rec := clone(model.Session{
		ID:        uuid.NewString(),
		Timestamp: s.now().UnixMilli(),
		Mode:      mode,
		Entries:   entries,
	})

	s.mu.Lock()
	s.sessions = append([]model.Session{rec}, s.sessions...)
	s.mu.Unlock()

	metrics.Sessions.WithLabelValues(string(mode)).Inc()
	s.persist(ctx)
	s.log.Info("session recorded", "id", rec.ID, "mode", mode, "entries", len(rec.Entries))
	return clone(rec)
}

// List returns every session, newest first.
func (s *Store) List() []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Session, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, clone(rec))
	}
	return out
}

// Get returns the session with id.
func (s *Store) Get(id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.sessions {
		if rec.ID == id {
			return clone(rec), true
		}
	}
	return model.Session{}, false
}

// Clear drops every session and the persisted document.
func (s *Store) Clear(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = nil
	s.mu.Unlock()

	if err := s.kv.Delete(ctx, Key); err != nil {
		metrics.PersistFailures.WithLabelValues(Key).Inc()
		s.log.Error("could not clear persisted history", "error", err)
	}
	s.log.Info("history cleared", "sessions", n)
}

func (s *Store) persist(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := store.SaveJSON(ctx, s.kv, Key, s.List()); err != nil {
		metrics.PersistFailures.WithLabelValues(Key).Inc()
		s.log.Error("could not persist attendance history", "error", err)
	}
}

// clone copies the entries so callers never share them with the store.
func clone(rec model.Session) model.Session {
	rec.Entries = append([]model.Entry{}, rec.Entries...)
	return rec
}
