package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"reminder_notification_bot/internal/domain/reminder"
)

// MemoryRepository is a map-backed reminder.Repository.
// Records are stored as given; it does not validate, so tests can seed malformed rows.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[reminder.Key]reminder.ReminderSchedule

	// Err, when set, is returned by every call.
	Err error
	// OnGet runs after Get reads a record; tests use it to race mutations against fires.
	OnGet func(key reminder.Key)

	Gets int
}

func NewMemoryRepository(seed ...reminder.ReminderSchedule) *MemoryRepository {
	r := &MemoryRepository{records: map[reminder.Key]reminder.ReminderSchedule{}}
	for _, s := range seed {
		r.records[s.Key()] = clone(s)
	}
	return r
}

func clone(s reminder.ReminderSchedule) reminder.ReminderSchedule {
	if s.DayOfWeek != nil {
		d := *s.DayOfWeek
		s.DayOfWeek = &d
	}
	return s
}

func (r *MemoryRepository) fail() error {
	if r.Err != nil {
		return fmt.Errorf("%w: %w", reminder.ErrRepository, r.Err)
	}
	return nil
}

func (r *MemoryRepository) LoadAll(ctx context.Context) ([]reminder.ReminderSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	out := make([]reminder.ReminderSchedule, 0, len(r.records))
	for _, s := range r.records {
		out = append(out, clone(s))
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, key reminder.Key) (*reminder.ReminderSchedule, error) {
	r.mu.Lock()
	if err := r.fail(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.Gets++
	s, ok := r.records[key]
	hook := r.OnGet
	r.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if !ok {
		return nil, reminder.ErrScheduleNotFound
	}
	c := clone(s)
	return &c, nil
}

func (r *MemoryRepository) ListBySubject(ctx context.Context, subjectID string) ([]reminder.ReminderSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return nil, err
	}
	var out []reminder.ReminderSchedule
	for k, s := range r.records {
		if k.SubjectID == subjectID {
			out = append(out, clone(s))
		}
	}
	sortSchedules(out)
	return out, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, s reminder.ReminderSchedule) (reminder.ReminderSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return reminder.ReminderSchedule{}, err
	}
	if prev, ok := r.records[s.Key()]; ok {
		s.CreatedAt = prev.CreatedAt
	}
	r.records[s.Key()] = clone(s)
	return clone(s), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, key reminder.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return false, err
	}
	_, ok := r.records[key]
	delete(r.records, key)
	return ok, nil
}

func (r *MemoryRepository) DeleteAll(ctx context.Context, subjectID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return 0, err
	}
	n := 0
	for k := range r.records {
		if k.SubjectID == subjectID {
			delete(r.records, k)
			n++
		}
	}
	return n, nil
}

// Put writes a record directly, bypassing Upsert semantics.
func (r *MemoryRepository) Put(s reminder.ReminderSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[s.Key()] = clone(s)
}

// Remove deletes a record directly.
func (r *MemoryRepository) Remove(key reminder.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
}

func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func sortSchedules(s []reminder.ReminderSchedule) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].SubjectID == s[j].SubjectID {
			return s[i].Kind < s[j].Kind
		}
		return s[i].SubjectID < s[j].SubjectID
	})
}
