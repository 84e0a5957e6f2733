// internal/infra/scheduler/registry.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"reminder_notification_bot/internal/domain/reminder"
	"reminder_notification_bot/internal/infra/metrics"
)

// ErrRegistryClosed is returned by Arm and Apply after Shutdown.
var ErrRegistryClosed = errors.New("job registry is shut down")

// Dispatcher delivers a due schedule. It reports whether the schedule must be disabled.
type Dispatcher interface {
	Dispatch(ctx context.Context, s reminder.ReminderSchedule) (disable bool)
}

type runningJob struct {
	schedule reminder.ReminderSchedule
	rule     cron.Schedule
	due      time.Time
	timer    reminder.Timer
	gen      uint64
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// JobRegistry owns one armed timer per (subject, kind).
//
// Every operation on a key (Arm, Cancel, Apply and the fire handler) runs under
// that key's lock, so at most one timer is live per key and a fire never
// interleaves with a mutation of the same key. Timer callbacks carry the
// generation they were armed with and do nothing if the key was re-armed or
// cancelled since.
type JobRegistry struct {
	repo       reminder.Repository
	dispatcher Dispatcher
	clock      reminder.Clock
	loc        *time.Location
	log        *logrus.Entry

	mu       sync.Mutex
	jobs     map[reminder.Key]*runningJob
	locks    map[reminder.Key]*keyLock
	gen      uint64
	closed   bool
	inflight sync.WaitGroup
}

func NewJobRegistry(
	repo reminder.Repository,
	dispatcher Dispatcher,
	clock reminder.Clock,
	loc *time.Location,
	log *logrus.Entry,
) *JobRegistry {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &JobRegistry{
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clock,
		loc:        loc,
		log:        log.WithField("component", "job_registry"),
		jobs:       map[reminder.Key]*runningJob{},
		locks:      map[reminder.Key]*keyLock{},
	}
}

func (r *JobRegistry) lockKey(key reminder.Key) func() {
	r.mu.Lock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// Arm computes the next fire of s and starts its timer, replacing any job for the same key.
func (r *JobRegistry) Arm(s reminder.ReminderSchedule) (time.Time, error) {
	unlock := r.lockKey(s.Key())
	defer unlock()
	return r.armKeyLocked(s, r.clock.Now())
}

// armKeyLocked requires the key lock. Fire instants are computed strictly after `after`.
func (r *JobRegistry) armKeyLocked(s reminder.ReminderSchedule, after time.Time) (time.Time, error) {
	key := s.Key()
	var rule cron.Schedule = reminder.RuleFor(s, r.loc)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return time.Time{}, ErrRegistryClosed
	}
	if old, ok := r.jobs[key]; ok {
		old.timer.Stop()
	}
	r.gen++
	gen := r.gen
	due := rule.Next(after)
	delay := due.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	job := &runningJob{schedule: s, rule: rule, due: due, gen: gen}
	job.timer = r.clock.AfterFunc(delay, func() { r.fire(key, gen) })
	r.jobs[key] = job
	metrics.SetArmedJobs(len(r.jobs))

	r.log.WithFields(logrus.Fields{
		"subject_id": key.SubjectID,
		"kind":       key.Kind,
		"next_fire":  due.Format(time.RFC3339),
	}).Debug("Reminder armed")
	return due, nil
}

// Cancel stops and forgets the job for key. It reports whether a job existed.
// If a fire for key is in flight, Cancel waits for it to finish.
func (r *JobRegistry) Cancel(key reminder.Key) bool {
	unlock := r.lockKey(key)
	defer unlock()
	return r.cancelKeyLocked(key)
}

func (r *JobRegistry) cancelKeyLocked(key reminder.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[key]
	if !ok {
		return false
	}
	job.timer.Stop()
	delete(r.jobs, key)
	metrics.SetArmedJobs(len(r.jobs))
	r.log.WithFields(logrus.Fields{"subject_id": key.SubjectID, "kind": key.Kind}).Debug("Reminder cancelled")
	return true
}

// CancelAll cancels every job of subjectID and returns how many were cancelled.
func (r *JobRegistry) CancelAll(subjectID string) int {
	n := 0
	for _, key := range subjectKeys(subjectID) {
		if r.Cancel(key) {
			n++
		}
	}
	return n
}

// Apply runs write under the key lock and then arms the schedule it returns,
// or cancels the key if it returns nil. If write fails the registry is left untouched.
func (r *JobRegistry) Apply(key reminder.Key, write func() (*reminder.ReminderSchedule, error)) (time.Time, error) {
	unlock := r.lockKey(key)
	defer unlock()

	if r.isClosed() {
		return time.Time{}, ErrRegistryClosed
	}
	s, err := write()
	if err != nil {
		return time.Time{}, err
	}
	if s == nil {
		r.cancelKeyLocked(key)
		return time.Time{}, nil
	}
	if s.Key() != key {
		return time.Time{}, fmt.Errorf("apply %s: write returned schedule for %s", key, s.Key())
	}
	return r.armKeyLocked(*s, r.clock.Now())
}

// ApplySubject runs write with every key of subjectID locked, then cancels all of
// the subject's jobs. Keys are locked in a fixed order.
func (r *JobRegistry) ApplySubject(subjectID string, write func() error) error {
	keys := subjectKeys(subjectID)
	unlocks := make([]func(), 0, len(keys))
	for _, key := range keys {
		unlocks = append(unlocks, r.lockKey(key))
	}
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	if err := write(); err != nil {
		return err
	}
	for _, key := range keys {
		r.cancelKeyLocked(key)
	}
	return nil
}

func subjectKeys(subjectID string) []reminder.Key {
	return []reminder.Key{
		{SubjectID: subjectID, Kind: reminder.KindDaily},
		{SubjectID: subjectID, Kind: reminder.KindWeekly},
	}
}

func (r *JobRegistry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// fire handles a timer callback for key armed at generation gen.
func (r *JobRegistry) fire(key reminder.Key, gen uint64) {
	unlock := r.lockKey(key)
	defer unlock()

	r.mu.Lock()
	job, ok := r.jobs[key]
	if r.closed || !ok || job.gen != gen {
		// Cancelled or re-armed after this timer was started.
		r.mu.Unlock()
		return
	}
	r.inflight.Add(1)
	due := job.due
	snapshot := job.schedule
	r.mu.Unlock()
	defer r.inflight.Done()

	start := r.clock.Now()
	defer func() { metrics.ObserveFire(r.clock.Now().Sub(start)) }()

	entry := r.log.WithFields(logrus.Fields{"subject_id": key.SubjectID, "kind": key.Kind})
	ctx := context.Background()

	current, ok := r.reload(ctx, entry, key, snapshot)
	if !ok {
		return
	}

	if r.dispatcher.Dispatch(ctx, current) {
		if _, err := r.repo.Delete(ctx, key); err != nil {
			entry.WithError(err).Error("Failed to delete schedule disabled by failure policy; keeping it armed")
		} else {
			metrics.RecordDisabled()
			entry.Warn("Schedule disabled by permanent-failure policy")
			r.cancelKeyLocked(key)
			return
		}
	}

	// A remove that raced the delivery must not be undone by the re-arm.
	latest, ok := r.reload(ctx, entry, key, current)
	if !ok {
		return
	}

	after := r.clock.Now()
	if after.Before(due) {
		after = due
	}
	if _, err := r.armKeyLocked(latest, after); err != nil && !errors.Is(err, ErrRegistryClosed) {
		entry.WithError(err).Error("Failed to re-arm reminder")
	}
}

// reload re-reads key from the repository. It returns false, dropping the job,
// when the record is gone or no longer valid. On a storage error it keeps the
// fallback snapshot so the recurrence is not lost.
func (r *JobRegistry) reload(ctx context.Context, entry *logrus.Entry, key reminder.Key, fallback reminder.ReminderSchedule) (reminder.ReminderSchedule, bool) {
	s, err := r.repo.Get(ctx, key)
	switch {
	case errors.Is(err, reminder.ErrScheduleNotFound):
		entry.Info("Schedule no longer persisted; dropping job")
		r.cancelKeyLocked(key)
		return reminder.ReminderSchedule{}, false
	case err != nil:
		entry.WithError(err).Warn("Could not re-read schedule; using armed snapshot")
		return fallback, true
	}
	if err := s.Validate(); err != nil {
		metrics.RecordSkippedRecord("fire")
		entry.WithError(fmt.Errorf("%w: %w", reminder.ErrMalformedRecord, err)).Error("Persisted schedule is malformed; dropping job")
		r.cancelKeyLocked(key)
		return reminder.ReminderSchedule{}, false
	}
	return *s, true
}

// NextFire returns the instant the job for key is armed for.
func (r *JobRegistry) NextFire(key reminder.Key) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return job.due, true
}

// Armed returns a copy of the schedule snapshot of every armed job.
func (r *JobRegistry) Armed() map[reminder.Key]reminder.ReminderSchedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[reminder.Key]reminder.ReminderSchedule, len(r.jobs))
	for k, job := range r.jobs {
		out[k] = job.schedule
	}
	return out
}

func (r *JobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown stops every timer and waits for in-flight fires, or for ctx.
// Fires that are in flight finish their delivery but do not re-arm.
func (r *JobRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for key, job := range r.jobs {
		job.timer.Stop()
		delete(r.jobs, key)
	}
	metrics.SetArmedJobs(0)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("Job registry stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight reminders: %w", ctx.Err())
	}
}
