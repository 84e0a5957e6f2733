package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder_notification_bot/internal/domain/reminder"
	"reminder_notification_bot/internal/testutil"
)

var msk = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		panic(err)
	}
	return loc
}()

type dispatchFunc func(ctx context.Context, s reminder.ReminderSchedule) bool

func (f dispatchFunc) Dispatch(ctx context.Context, s reminder.ReminderSchedule) bool {
	return f(ctx, s)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []reminder.ReminderSchedule
	hook  func(s reminder.ReminderSchedule) bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, s reminder.ReminderSchedule) bool {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	hook := d.hook
	d.mu.Unlock()
	if hook != nil {
		return hook(s)
	}
	return false
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recordingDispatcher) last() reminder.ReminderSchedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

func nullEntry() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func dailyAt(subject string, h, m int) reminder.ReminderSchedule {
	return reminder.ReminderSchedule{SubjectID: subject, Kind: reminder.KindDaily, TimeOfDay: reminder.TimeOfDay{Hour: h, Minute: m}}
}

func weeklyAt(subject string, d time.Weekday, h, m int) reminder.ReminderSchedule {
	return reminder.ReminderSchedule{
		SubjectID: subject,
		Kind:      reminder.KindWeekly,
		TimeOfDay: reminder.TimeOfDay{Hour: h, Minute: m},
		DayOfWeek: reminder.Weekday(d),
	}
}

type fixture struct {
	clock      *testutil.FakeClock
	repo       *testutil.MemoryRepository
	dispatcher *recordingDispatcher
	registry   *JobRegistry
}

// newFixture starts on Wednesday 2026-10-14 08:00 MSK.
func newFixture(t *testing.T, seed ...reminder.ReminderSchedule) *fixture {
	t.Helper()
	f := &fixture{
		clock:      testutil.NewFakeClock(time.Date(2026, 10, 14, 8, 0, 0, 0, msk)),
		repo:       testutil.NewMemoryRepository(seed...),
		dispatcher: &recordingDispatcher{},
	}
	f.registry = NewJobRegistry(f.repo, f.dispatcher, f.clock, msk, nullEntry())
	return f
}

func TestJobRegistry_ArmAndFire(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)

	next, err := f.registry.Arm(s)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2026, 10, 14, 9, 0, 0, 0, msk)))

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 8, 59, 0, 0, msk))
	assert.Equal(t, 0, f.dispatcher.count())

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))
	assert.Equal(t, 1, f.dispatcher.count())

	// Recurring: re-armed for tomorrow.
	next, ok := f.registry.NextFire(s.Key())
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 10, 15, 9, 0, 0, 0, msk)))
	assert.Len(t, f.clock.Pending(), 1)

	f.clock.AdvanceTo(time.Date(2026, 10, 17, 12, 0, 0, 0, msk))
	assert.Equal(t, 4, f.dispatcher.count())
}

func TestJobRegistry_ArmReplacesExistingJob(t *testing.T) {
	f := newFixture(t)
	first := dailyAt("U1", 9, 0)
	second := dailyAt("U1", 10, 0)
	f.repo.Put(second)

	_, err := f.registry.Arm(first)
	require.NoError(t, err)
	_, err = f.registry.Arm(second)
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.Len())
	assert.Len(t, f.clock.Pending(), 1)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 30, 0, 0, msk))
	assert.Equal(t, 0, f.dispatcher.count(), "replaced timer must not fire")

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 10, 0, 0, 0, msk))
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestJobRegistry_StaleCallbackIsIgnored(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)

	_, err := f.registry.Arm(s)
	require.NoError(t, err)
	f.registry.mu.Lock()
	staleGen := f.registry.jobs[s.Key()].gen
	f.registry.mu.Unlock()

	_, err = f.registry.Arm(s)
	require.NoError(t, err)

	// A callback that started before the re-arm could stop it.
	f.registry.fire(s.Key(), staleGen)
	assert.Equal(t, 0, f.dispatcher.count())

	f.registry.Cancel(s.Key())
	f.registry.fire(s.Key(), staleGen+1)
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestJobRegistry_Cancel(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)

	assert.False(t, f.registry.Cancel(s.Key()), "cancel of unknown key is a no-op")

	_, err := f.registry.Arm(s)
	require.NoError(t, err)
	assert.True(t, f.registry.Cancel(s.Key()))
	assert.Equal(t, 0, f.registry.Len())

	f.clock.Advance(48 * time.Hour)
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestJobRegistry_CancelAll(t *testing.T) {
	d := dailyAt("U1", 9, 0)
	w := weeklyAt("U1", time.Monday, 18, 30)
	other := dailyAt("U2", 9, 0)
	f := newFixture(t, d, w, other)

	for _, s := range []reminder.ReminderSchedule{d, w, other} {
		_, err := f.registry.Arm(s)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, f.registry.CancelAll("U1"))
	assert.Equal(t, 1, f.registry.Len())
	_, ok := f.registry.NextFire(other.Key())
	assert.True(t, ok)
}

func TestJobRegistry_FireRereadsRepository(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	updated := s
	updated.Message = sql.NullString{String: "stretch", Valid: true}
	f.repo.Put(updated)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))
	require.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, "stretch", f.dispatcher.last().Message.String)
}

func TestJobRegistry_RemovedBeforeFireIsNotDelivered(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.repo.Remove(s.Key())
	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	assert.Equal(t, 0, f.dispatcher.count())
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.clock.Pending())
}

func TestJobRegistry_RemoveRacingFireDoesNotResurrect(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	f.dispatcher.hook = func(s reminder.ReminderSchedule) bool {
		// The record disappears while the delivery is in flight.
		f.repo.Remove(s.Key())
		return false
	}
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	assert.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.clock.Pending())
}

func TestJobRegistry_UpdateRacingFireRearmsFromLatest(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	f.dispatcher.hook = func(s reminder.ReminderSchedule) bool {
		f.repo.Put(dailyAt("U1", 21, 15))
		return false
	}
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	next, ok := f.registry.NextFire(s.Key())
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 10, 14, 21, 15, 0, 0, msk)), "got %s", next)
}

func TestJobRegistry_DisableByPolicy(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	f.dispatcher.hook = func(reminder.ReminderSchedule) bool { return true }
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	assert.Equal(t, 0, f.repo.Len())
	assert.Equal(t, 0, f.registry.Len())
	f.clock.Advance(72 * time.Hour)
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestJobRegistry_RepositoryErrorKeepsSchedule(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.repo.Err = errors.New("connection refused")
	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	assert.Equal(t, 1, f.dispatcher.count(), "delivery uses the armed snapshot")
	next, ok := f.registry.NextFire(s.Key())
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 10, 15, 9, 0, 0, 0, msk)))
}

func TestJobRegistry_MalformedRecordOnFireDropsJob(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.repo.Put(dailyAt("U1", 25, 0))
	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	assert.Equal(t, 0, f.dispatcher.count())
	assert.Equal(t, 0, f.registry.Len())
}

func TestJobRegistry_Apply(t *testing.T) {
	f := newFixture(t)
	s := dailyAt("U1", 9, 0)

	t.Run("write error leaves registry untouched", func(t *testing.T) {
		_, err := f.registry.Apply(s.Key(), func() (*reminder.ReminderSchedule, error) {
			return nil, reminder.ErrRepository
		})
		require.ErrorIs(t, err, reminder.ErrRepository)
		assert.Equal(t, 0, f.registry.Len())
	})

	t.Run("schedule arms", func(t *testing.T) {
		next, err := f.registry.Apply(s.Key(), func() (*reminder.ReminderSchedule, error) { return &s, nil })
		require.NoError(t, err)
		assert.True(t, next.Equal(time.Date(2026, 10, 14, 9, 0, 0, 0, msk)))
		assert.Equal(t, 1, f.registry.Len())
	})

	t.Run("mismatched key is rejected", func(t *testing.T) {
		other := dailyAt("U2", 9, 0)
		_, err := f.registry.Apply(s.Key(), func() (*reminder.ReminderSchedule, error) { return &other, nil })
		require.Error(t, err)
	})

	t.Run("nil cancels", func(t *testing.T) {
		_, err := f.registry.Apply(s.Key(), func() (*reminder.ReminderSchedule, error) { return nil, nil })
		require.NoError(t, err)
		assert.Equal(t, 0, f.registry.Len())
	})
}

func TestJobRegistry_ApplySubject(t *testing.T) {
	d := dailyAt("U1", 9, 0)
	w := weeklyAt("U1", time.Monday, 18, 30)
	f := newFixture(t, d, w)
	for _, s := range []reminder.ReminderSchedule{d, w} {
		_, err := f.registry.Arm(s)
		require.NoError(t, err)
	}

	err := f.registry.ApplySubject("U1", func() error { return reminder.ErrRepository })
	require.Error(t, err)
	assert.Equal(t, 2, f.registry.Len())

	require.NoError(t, f.registry.ApplySubject("U1", func() error { return nil }))
	assert.Equal(t, 0, f.registry.Len())
}

func TestJobRegistry_ShutdownStopsEverything(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	require.NoError(t, f.registry.Shutdown(context.Background()))
	assert.Equal(t, 0, f.registry.Len())

	f.clock.Advance(48 * time.Hour)
	assert.Equal(t, 0, f.dispatcher.count())

	_, err = f.registry.Arm(s)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	require.NoError(t, f.registry.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestJobRegistry_ShutdownDuringFireDoesNotRearm(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)

	shutdownErr := make(chan error, 1)
	f.dispatcher.hook = func(reminder.ReminderSchedule) bool {
		go func() { shutdownErr <- f.registry.Shutdown(context.Background()) }()
		// Let Shutdown mark the registry closed while this delivery is in flight.
		require.Eventually(t, f.registry.isClosed, time.Second, time.Millisecond)
		return false
	}
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))

	require.NoError(t, <-shutdownErr)
	assert.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, 0, f.registry.Len())
	assert.Empty(t, f.clock.Pending())
}

func TestJobRegistry_ShutdownHonoursContext(t *testing.T) {
	s := dailyAt("U1", 9, 0)
	f := newFixture(t, s)

	release := make(chan struct{})
	entered := make(chan struct{})
	f.dispatcher.hook = func(reminder.ReminderSchedule) bool {
		close(entered)
		<-release
		return false
	}
	_, err := f.registry.Arm(s)
	require.NoError(t, err)

	go f.clock.AdvanceTo(time.Date(2026, 10, 14, 9, 0, 0, 0, msk))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.registry.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestJobRegistry_ConcurrentMutationsKeepOneTimerPerKey(t *testing.T) {
	now := time.Now().In(msk)
	at := now.Add(6 * time.Hour)
	s := dailyAt("U1", at.Hour(), at.Minute())
	repo := testutil.NewMemoryRepository(s)
	registry := NewJobRegistry(repo, &recordingDispatcher{}, reminder.SystemClock{}, msk, nullEntry())
	defer registry.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = registry.Arm(s)
		}()
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				registry.Cancel(s.Key())
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, registry.Len(), 1)
	_, err := registry.Arm(s)
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())
}

var _ Dispatcher = dispatchFunc(nil)
