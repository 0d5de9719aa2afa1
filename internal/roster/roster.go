package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"classattend/internal/metrics"
	"classattend/internal/model"
	"classattend/internal/store"
)

// Key is the document key the roster is persisted under.
const Key = "studentList"

var (
	ErrNotFound = errors.New("student not found")
	ErrInvalid  = errors.New("invalid student")
)

// Store holds the roster in memory and rewrites the persisted list on every
// mutation.
type Store struct {
	kv  store.KV
	log *slog.Logger

	writeMu  sync.Mutex
	mu       sync.RWMutex
	students []model.Student
}

// Load reads the persisted roster once. When nothing is stored yet the seed is
// used and written back; when the stored list cannot be read the seed is used
// without touching storage.
func Load(ctx context.Context, kv store.KV, seed []model.Student, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{kv: kv, log: logger.With("component", "roster")}

	var stored []model.Student
	found, err := store.LoadJSON(ctx, kv, Key, &stored)
	switch {
	case err != nil:
		s.log.Error("could not load roster, using seed", "error", err)
		s.students = cloneAll(seed)
	case !found:
		s.students = cloneAll(seed)
		s.persist(ctx)
	default:
		s.students = stored
	}
	metrics.RosterSize.Set(float64(len(s.students)))
	return s
}

// List returns the roster in insertion order.
func (s *Store) List() []model.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.students)
}

// Len returns the roster size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.students)
}

// Filter matches query against name or NIM, both case-insensitive, and class
// exactly; an empty class or "All" matches every class.
func (s *Store) Filter(query, class string) []model.Student {
	query = strings.ToLower(strings.TrimSpace(query))
	out := []model.Student{}
	for _, st := range s.List() {
		if !MatchesClass(st, class) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(st.Name), query) && !strings.Contains(strings.ToLower(st.NIM), query) {
			continue
		}
		out = append(out, st)
	}
	return out
}

// MatchesClass reports whether st belongs to class; "" and "All" match all.
func MatchesClass(st model.Student, class string) bool {
	return class == "" || class == "All" || st.Class == class
}

// Get returns the student with id.
func (s *Store) Get(id string) (model.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.ID == id {
			return st, nil
		}
	}
	return model.Student{}, ErrNotFound
}

// FindByTag returns the first student whose tag equals uid exactly.
func (s *Store) FindByTag(uid string) (model.Student, bool) {
	if uid == "" {
		return model.Student{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.RFIDUID == uid {
			return st, true
		}
	}
	return model.Student{}, false
}

// Add registers a new student with a generated id.
func (s *Store) Add(ctx context.Context, st model.Student) (model.Student, error) {
	st = normalize(st)
	if err := validate(st); err != nil {
		return model.Student{}, err
	}
	st.ID = uuid.NewString()

	s.mu.Lock()
	s.students = append(s.students, st)
	s.mu.Unlock()

	s.persist(ctx)
	s.log.Info("student added", "id", st.ID, "name", st.Name)
	return st, nil
}

// Update replaces the student with the same id.
func (s *Store) Update(ctx context.Context, st model.Student) (model.Student, error) {
	st = normalize(st)
	if err := validate(st); err != nil {
		return model.Student{}, err
	}

	s.mu.Lock()
	idx := s.indexOf(st.ID)
	if idx < 0 {
		s.mu.Unlock()
		return model.Student{}, ErrNotFound
	}
	s.students[idx] = st
	s.mu.Unlock()

	s.persist(ctx)
	s.log.Info("student updated", "id", st.ID, "name", st.Name)
	return st, nil
}

// Delete removes the student with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.students = append(s.students[:idx:idx], s.students[idx+1:]...)
	s.mu.Unlock()

	s.persist(ctx)
	s.log.Info("student deleted", "id", id)
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, st := range s.students {
		if st.ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole list. A failed write is logged and counted; the
// in-memory roster stays authoritative.
func (s *Store) persist(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	snapshot := s.List()
	metrics.RosterSize.Set(float64(len(snapshot)))
	if err := store.SaveJSON(ctx, s.kv, Key, snapshot); err != nil {
		metrics.PersistFailures.WithLabelValues(Key).Inc()
		s.log.Error("could not persist roster", "error", err)
	}
}

func normalize(st model.Student) model.Student {
	st.Name = strings.TrimSpace(st.Name)
	st.NIM = strings.TrimSpace(st.NIM)
	st.Class = strings.TrimSpace(st.Class)
	st.RFIDUID = strings.TrimSpace(st.RFIDUID)
	return st
}

func validate(st model.Student) error {
	if st.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if st.NIM == "" {
		return fmt.Errorf("%w: nim required", ErrInvalid)
	}
	return nil
}

func cloneAll(in []model.Student) []model.Student {
	if in == nil {
		return []model.Student{}
	}
	return append([]model.Student(nil), in...)
}
