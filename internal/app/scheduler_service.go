// internal/app/scheduler_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"reminder_notification_bot/internal/domain/reminder"
	"reminder_notification_bot/internal/infra/metrics"
)

// ErrServiceClosed is returned by mutations after Shutdown.
var ErrServiceClosed = errors.New("scheduler service is shut down")

const defaultRecoverTimeout = 30 * time.Second

// JobRegistry is the in-memory timer registry the service drives.
type JobRegistry interface {
	Arm(s reminder.ReminderSchedule) (time.Time, error)
	Cancel(key reminder.Key) bool
	Apply(key reminder.Key, write func() (*reminder.ReminderSchedule, error)) (time.Time, error)
	ApplySubject(subjectID string, write func() error) error
	NextFire(key reminder.Key) (time.Time, bool)
	Armed() map[reminder.Key]reminder.ReminderSchedule
	Shutdown(ctx context.Context) error
}

// SchedulerService is the reminder engine as seen by command handlers and process lifecycle.
type SchedulerService interface {
	Recover(ctx context.Context) (SyncReport, error)
	Resync(ctx context.Context) (SyncReport, error)
	AddOrUpdate(ctx context.Context, req AddRequest) (reminder.ReminderSchedule, error)
	Remove(ctx context.Context, subjectID string, kind reminder.ScheduleKind) (bool, error)
	RemoveAll(ctx context.Context, subjectID string) (int, error)
	ListFor(ctx context.Context, subjectID string) ([]reminder.ReminderSchedule, error)
	NextFire(subjectID string, kind reminder.ScheduleKind) (time.Time, bool)
	Shutdown(ctx context.Context) error
}

// AddRequest carries the fields a caller may set; DayOfWeek only for weekly schedules.
type AddRequest struct {
	SubjectID string
	Kind      reminder.ScheduleKind
	TimeOfDay reminder.TimeOfDay
	DayOfWeek *time.Weekday
	Message   string
}

// SyncReport summarises a Recover or Resync pass.
type SyncReport struct {
	Armed     int
	Cancelled int
	Skipped   int
}

// Forgetter drops per-key delivery bookkeeping when a schedule is removed.
type Forgetter interface {
	Forget(key reminder.Key)
}

type SchedulerServiceImpl struct {
	repo           reminder.Repository
	registry       JobRegistry
	forgetter      Forgetter
	clock          reminder.Clock
	recoverTimeout time.Duration
	logger         *logrus.Entry

	mu     sync.Mutex
	closed bool
}

func NewSchedulerServiceImpl(
	repo reminder.Repository,
	registry JobRegistry,
	forgetter Forgetter,
	clock reminder.Clock,
	recoverTimeout time.Duration,
	logger *logrus.Entry,
) *SchedulerServiceImpl {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	if recoverTimeout <= 0 {
		recoverTimeout = defaultRecoverTimeout
	}
	return &SchedulerServiceImpl{
		repo:           repo,
		registry:       registry,
		forgetter:      forgetter,
		clock:          clock,
		recoverTimeout: recoverTimeout,
		logger:         logger.WithField("component", "scheduler_service"),
	}
}

func (s *SchedulerServiceImpl) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Recover arms one job per persisted schedule. Malformed records are logged and
// skipped; only a failure to load the repository aborts recovery.
func (s *SchedulerServiceImpl) Recover(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.isClosed() {
		return report, ErrServiceClosed
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.recoverTimeout)
	records, err := s.repo.LoadAll(loadCtx)
	cancel()
	if err != nil {
		s.logger.WithError(err).Error("Failed to load schedules for recovery")
		return report, fmt.Errorf("recover schedules: %w", err)
	}
	s.logger.WithField("count", len(records)).Info("Recovering reminder schedules")

	for _, rec := range records {
		logCtx := s.logger.WithFields(logrus.Fields{"subject_id": rec.SubjectID, "kind": rec.Kind})
		if err := rec.Validate(); err != nil {
			report.Skipped++
			metrics.RecordSkippedRecord("recover")
			logCtx.WithError(fmt.Errorf("%w: %w", reminder.ErrMalformedRecord, err)).Error("Skipping malformed schedule")
			continue
		}
		next, err := s.registry.Arm(rec)
		if err != nil {
			return report, fmt.Errorf("recover %s: %w", rec.Key(), err)
		}
		report.Armed++
		logCtx.WithField("next_fire", next.Format(time.RFC3339)).Debug("Schedule recovered")
	}

	s.logger.WithFields(logrus.Fields{"armed": report.Armed, "skipped": report.Skipped}).Info("Recovery complete")
	return report, nil
}

// Resync reconciles the registry with the repository: records missing from the
// registry or armed from a stale snapshot are (re)armed, jobs without a record are cancelled.
func (s *SchedulerServiceImpl) Resync(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.isClosed() {
		return report, ErrServiceClosed
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.recoverTimeout)
	records, err := s.repo.LoadAll(loadCtx)
	cancel()
	if err != nil {
		return report, fmt.Errorf("resync schedules: %w", err)
	}

	armed := s.registry.Armed()
	persisted := make(map[reminder.Key]bool, len(records))
	for _, rec := range records {
		key := rec.Key()
		persisted[key] = true
		if err := rec.Validate(); err != nil {
			report.Skipped++
			metrics.RecordSkippedRecord("resync")
			s.logger.WithFields(logrus.Fields{"subject_id": rec.SubjectID, "kind": rec.Kind}).
				WithError(fmt.Errorf("%w: %w", reminder.ErrMalformedRecord, err)).Error("Skipping malformed schedule")
			if _, ok := armed[key]; ok && s.registry.Cancel(key) {
				report.Cancelled++
			}
			continue
		}
		if cur, ok := armed[key]; ok && cur.SameRule(rec) {
			continue
		}
		if _, err := s.registry.Apply(key, s.reread(ctx, key)); err != nil {
			return report, fmt.Errorf("resync %s: %w", key, err)
		}
		if _, ok := s.registry.NextFire(key); ok {
			report.Armed++
		}
	}

	for key := range armed {
		if persisted[key] {
			continue
		}
		if _, err := s.registry.Apply(key, s.reread(ctx, key)); err != nil {
			return report, fmt.Errorf("resync %s: %w", key, err)
		}
		if _, ok := s.registry.NextFire(key); !ok {
			report.Cancelled++
		}
	}

	if report.Armed+report.Cancelled+report.Skipped > 0 {
		s.logger.WithFields(logrus.Fields{
			"armed":     report.Armed,
			"cancelled": report.Cancelled,
			"skipped":   report.Skipped,
		}).Info("Registry resynchronised with repository")
	}
	return report, nil
}

// reread returns an Apply write that re-reads key under its lock: a missing or
// malformed record cancels the job.
func (s *SchedulerServiceImpl) reread(ctx context.Context, key reminder.Key) func() (*reminder.ReminderSchedule, error) {
	return func() (*reminder.ReminderSchedule, error) {
		rec, err := s.repo.Get(ctx, key)
		if errors.Is(err, reminder.ErrScheduleNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.Validate() != nil {
			return nil, nil
		}
		return rec, nil
	}
}

// AddOrUpdate validates and upserts a schedule, then (re)arms its job.
// It returns the schedule as persisted.
func (s *SchedulerServiceImpl) AddOrUpdate(ctx context.Context, req AddRequest) (reminder.ReminderSchedule, error) {
	if s.isClosed() {
		return reminder.ReminderSchedule{}, ErrServiceClosed
	}

	now := s.clock.Now()
	sched := reminder.ReminderSchedule{
		SubjectID: normalizeSubject(req.SubjectID),
		Kind:      req.Kind,
		TimeOfDay: req.TimeOfDay,
		DayOfWeek: req.DayOfWeek,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		sched.Message = sql.NullString{String: msg, Valid: true}
	}
	if err := sched.Validate(); err != nil {
		return reminder.ReminderSchedule{}, err
	}

	var saved reminder.ReminderSchedule
	next, err := s.registry.Apply(sched.Key(), func() (*reminder.ReminderSchedule, error) {
		var err error
		saved, err = s.repo.Upsert(ctx, sched)
		if err != nil {
			return nil, err
		}
		return &saved, nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{"subject_id": sched.SubjectID, "kind": sched.Kind}).
			WithError(err).Error("Failed to save reminder schedule")
		return reminder.ReminderSchedule{}, fmt.Errorf("add reminder %s: %w", sched.Key(), err)
	}

	s.logger.WithFields(logrus.Fields{
		"subject_id":  saved.SubjectID,
		"kind":        saved.Kind,
		"time_of_day": saved.TimeOfDay.String(),
		"next_fire":   next.Format(time.RFC3339),
	}).Info("Reminder scheduled")
	// A replaced schedule starts a fresh permanent-failure streak.
	if s.forgetter != nil {
		s.forgetter.Forget(saved.Key())
	}
	return saved, nil
}

// normalizeSubject is applied to subject IDs by every operation so a padded ID
// addresses the same schedules it was stored under.
func normalizeSubject(subjectID string) string {
	return strings.TrimSpace(subjectID)
}

// Remove deletes the schedule for (subjectID, kind) and cancels its job.
// It reports whether a record existed.
func (s *SchedulerServiceImpl) Remove(ctx context.Context, subjectID string, kind reminder.ScheduleKind) (bool, error) {
	if s.isClosed() {
		return false, ErrServiceClosed
	}
	subjectID = normalizeSubject(subjectID)
	key := reminder.Key{SubjectID: subjectID, Kind: kind}

	var existed bool
	_, err := s.registry.Apply(key, func() (*reminder.ReminderSchedule, error) {
		var err error
		existed, err = s.repo.Delete(ctx, key)
		return nil, err
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{"subject_id": subjectID, "kind": kind}).
			WithError(err).Error("Failed to remove reminder schedule")
		return false, fmt.Errorf("remove reminder %s: %w", key, err)
	}
	if s.forgetter != nil {
		s.forgetter.Forget(key)
	}
	if existed {
		s.logger.WithFields(logrus.Fields{"subject_id": subjectID, "kind": kind}).Info("Reminder removed")
	}
	return existed, nil
}

// RemoveAll deletes every schedule of subjectID and cancels their jobs.
func (s *SchedulerServiceImpl) RemoveAll(ctx context.Context, subjectID string) (int, error) {
	if s.isClosed() {
		return 0, ErrServiceClosed
	}
	subjectID = normalizeSubject(subjectID)

	var n int
	err := s.registry.ApplySubject(subjectID, func() error {
		var err error
		n, err = s.repo.DeleteAll(ctx, subjectID)
		return err
	})
	if err != nil {
		s.logger.WithField("subject_id", subjectID).WithError(err).Error("Failed to remove reminder schedules")
		return 0, fmt.Errorf("remove reminders of %s: %w", subjectID, err)
	}
	if s.forgetter != nil {
		s.forgetter.Forget(reminder.Key{SubjectID: subjectID, Kind: reminder.KindDaily})
		s.forgetter.Forget(reminder.Key{SubjectID: subjectID, Kind: reminder.KindWeekly})
	}
	s.logger.WithFields(logrus.Fields{"subject_id": subjectID, "count": n}).Info("Reminders removed")
	return n, nil
}

// ListFor reads the subject's schedules straight from the repository.
func (s *SchedulerServiceImpl) ListFor(ctx context.Context, subjectID string) ([]reminder.ReminderSchedule, error) {
	subjectID = normalizeSubject(subjectID)
	list, err := s.repo.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list reminders of %s: %w", subjectID, err)
	}
	return list, nil
}

func (s *SchedulerServiceImpl) NextFire(subjectID string, kind reminder.ScheduleKind) (time.Time, bool) {
	return s.registry.NextFire(reminder.Key{SubjectID: normalizeSubject(subjectID), Kind: kind})
}

// Shutdown cancels every job; later mutations fail with ErrServiceClosed.
func (s *SchedulerServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("Shutting down reminder scheduler")
	return s.registry.Shutdown(ctx)
}
