package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/lifecycle"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/notify"
	"chat-sync/internal/preferences"
	"chat-sync/internal/readstate"
	"chat-sync/internal/realtime"
	"chat-sync/internal/timeline"
)

const (
	me      = "me"
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type chanPresenter chan models.Notification

func (p chanPresenter) Present(_ context.Context, n models.Notification) error {
	p <- n
	return nil
}

type harness struct {
	ctrl      *Controller
	source    *mocks.FakeSource
	store     *mocks.MessageRepositoryMock
	prefStore *mocks.PreferenceRepositoryMock
	prefs     *preferences.Cache
	life      *lifecycle.Observer
	presented chanPresenter
	cancel    context.CancelFunc
	done      chan struct{}
}

// newHarness runs a controller. setup registers expectations that take precedence over the defaults.
func newHarness(t *testing.T, setup func(h *harness)) *harness {
	t.Helper()
	logger := zerolog.Nop()
	h := &harness{
		source:    mocks.NewFakeSource(),
		store:     new(mocks.MessageRepositoryMock),
		prefStore: new(mocks.PreferenceRepositoryMock),
		life:      lifecycle.NewObserver(models.LifecycleActive),
		presented: make(chanPresenter, 16),
		done:      make(chan struct{}),
	}
	if setup != nil {
		setup(h)
	}
	h.store.On("RecentMessages", mock.Anything, mock.Anything, timeline.DefaultPageSize).Return([]models.Message{}, nil).Maybe()
	h.store.On("MarkRoomRead", mock.Anything, mock.Anything, me).Return(int64(0), nil).Maybe()
	h.prefStore.On("GetPreference", mock.Anything, me).Return(models.NotificationPreference{UserID: me, PushNotificationsEnabled: true}, nil).Maybe()

	h.prefs = preferences.NewCache(h.prefStore, me, logger)
	h.ctrl = NewController(Config{UserID: me}, Deps{
		Adapter:   realtime.NewAdapter(h.source, logger),
		Merger:    timeline.NewMerger(h.store, logger),
		Tracker:   readstate.NewTracker(h.store, logger),
		Gate:      notify.NewGate(logger),
		Presenter: h.presented,
		Lifecycle: h.life,
		Prefs:     h.prefs,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.ctrl.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) enter(t *testing.T, roomID string) {
	t.Helper()
	require.NoError(t, h.ctrl.EnterRoom(roomID))
	require.Eventually(t, func() bool {
		return h.ctrl.RoomID() == roomID && h.ctrl.State() == StateActive
	}, waitFor, tick)
}

func msg(id, roomID, sender string, minute int) models.Message {
	return models.Message{ID: id, RoomID: roomID, SenderID: sender, SenderName: "Bob", Content: "hello " + id, CreatedAt: base.Add(time.Duration(minute) * time.Minute)}
}

func ids(list []models.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func (h *harness) waitIDs(t *testing.T, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, ids(h.ctrl.Messages()))
	}, waitFor, tick, "want %v, have %v", want, ids(h.ctrl.Messages()))
}

func TestEnterRoomLoadsThenAppliesLiveInserts(t *testing.T) {
	page := []models.Message{msg("m1", "r1", "u2", 1), msg("m2", "r1", "u2", 2), msg("m3", "r1", me, 3)}
	h := newHarness(t, func(h *harness) {
		h.store.On("RecentMessages", mock.Anything, "r1", timeline.DefaultPageSize).Return(page, nil).Once()
	})

	h.enter(t, "r1")
	h.waitIDs(t, "m1", "m2", "m3")

	h.source.Emit("r1", msg("m4", "r1", "u2", 4))
	h.waitIDs(t, "m1", "m2", "m3", "m4")

	h.source.Emit("r1", msg("m4", "r1", "u2", 4))
	h.source.Emit("r1", msg("m5", "r1", "u2", 5))
	h.waitIDs(t, "m1", "m2", "m3", "m4", "m5")
	assert.Equal(t, models.StatusSubscribed, h.ctrl.Status())
}

func TestSwitchingRoomsClosesPreviousSubscriptionFirst(t *testing.T) {
	h := newHarness(t, nil)

	h.enter(t, "r1")
	h.enter(t, "r2")

	assert.Equal(t, []string{"subscribe:r1", "unsubscribe:r1", "subscribe:r2"}, h.source.Calls())
	assert.Equal(t, 1, h.source.Live())
}

func TestEnteringOpenRoomAgainIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	h.enter(t, "r1")
	require.NoError(t, h.ctrl.EnterRoom("r1"))
	require.NoError(t, h.ctrl.LeaveRoom())
	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, waitFor, tick)

	assert.Equal(t, []string{"subscribe:r1", "unsubscribe:r1"}, h.source.Calls())
}

func TestInsertsBeforeInitialLoadAreQueued(t *testing.T) {
	release := make(chan struct{})
	page := []models.Message{msg("m1", "r1", "u2", 1), msg("m2", "r1", "u2", 2)}
	h := newHarness(t, func(h *harness) {
		h.store.On("RecentMessages", mock.Anything, "r1", timeline.DefaultPageSize).
			Run(func(mock.Arguments) { <-release }).
			Return(page, nil).Once()
	})

	h.enter(t, "r1")
	h.source.Emit("r1", msg("m3", "r1", "u2", 3))
	h.source.Emit("r1", msg("m2", "r1", "u2", 2))

	assert.Never(t, func() bool { return len(h.ctrl.Messages()) > 0 }, 100*time.Millisecond, tick)

	close(release)
	h.waitIDs(t, "m1", "m2", "m3")
}

func TestStaleReadCompletionDoesNotTouchNewRoom(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(h *harness) {
		h.store.On("MarkRoomRead", mock.Anything, "r1", me).
			Run(func(mock.Arguments) { <-release }).
			Return(int64(5), nil).Once()
		h.store.On("MarkRoomRead", mock.Anything, "r2", me).Return(int64(0), assert.AnError)
		h.store.On("RecentMessages", mock.Anything, "r2", timeline.DefaultPageSize).
			Return([]models.Message{msg("b1", "r2", "u2", 1)}, nil).Once()
	})

	h.enter(t, "r1")
	h.enter(t, "r2")
	h.waitIDs(t, "b1")

	close(release)

	assert.Never(t, func() bool {
		list := h.ctrl.Messages()
		return len(list) != 1 || list[0].IsRead
	}, 200*time.Millisecond, tick)
}

func TestReadCompletionMarksActiveRoomLocally(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.store.On("MarkRoomRead", mock.Anything, "r1", me).Return(int64(1), nil)
		h.store.On("RecentMessages", mock.Anything, "r1", timeline.DefaultPageSize).Return([]models.Message{}, nil).Once()
	})

	h.enter(t, "r1")
	h.waitIDs(t)
	h.source.Emit("r1", msg("m1", "r1", "u2", 1))

	require.Eventually(t, func() bool {
		list := h.ctrl.Messages()
		return len(list) == 1 && list[0].IsRead
	}, waitFor, tick)
}

func TestNotificationReadsLifecycleWhenInsertFires(t *testing.T) {
	h := newHarness(t, nil)

	h.enter(t, "r1")
	h.waitIDs(t)
	require.Eventually(t, func() bool { _, ok := h.prefs.Latest(); return ok }, waitFor, tick)

	h.source.Emit("r1", msg("m1", "r1", "u2", 1))
	h.waitIDs(t, "m1")

	h.life.Set(models.LifecycleBackground)
	h.source.Emit("r1", msg("m2", "r1", "u2", 2))

	select {
	case n := <-h.presented:
		assert.Equal(t, "Bob", n.Title)
		assert.Equal(t, "hello m2", n.Body)
		assert.Equal(t, models.NotificationData{Type: models.NotificationTypeMessage, RoomID: "r1"}, n.Data)
	case <-time.After(waitFor):
		t.Fatal("expected a notification")
	}
	assert.Empty(t, h.presented)
}

func TestNoNotificationForOwnOrDuplicateMessages(t *testing.T) {
	h := newHarness(t, nil)
	h.life.Set(models.LifecycleBackground)

	h.enter(t, "r1")
	h.waitIDs(t)
	require.Eventually(t, func() bool { _, ok := h.prefs.Latest(); return ok }, waitFor, tick)

	h.source.Emit("r1", msg("m1", "r1", me, 1))
	h.source.Emit("r1", msg("m2", "r1", "u2", 2))
	h.source.Emit("r1", msg("m2", "r1", "u2", 2))
	h.waitIDs(t, "m1", "m2")

	require.Eventually(t, func() bool { return len(h.presented) == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return len(h.presented) > 1 }, 100*time.Millisecond, tick)
}

func TestDisabledPreferenceSuppressesNotification(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.prefStore.On("GetPreference", mock.Anything, me).Return(models.NotificationPreference{UserID: me}, nil)
	})
	h.life.Set(models.LifecycleBackground)

	h.enter(t, "r1")
	require.Eventually(t, func() bool { _, ok := h.prefs.Latest(); return ok }, waitFor, tick)
	h.source.Emit("r1", msg("m1", "r1", "u2", 1))
	h.waitIDs(t, "m1")

	assert.Never(t, func() bool { return len(h.presented) > 0 }, 100*time.Millisecond, tick)
}

func TestLeaveRoomIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.enter(t, "r1")
	require.NoError(t, h.ctrl.LeaveRoom())
	require.NoError(t, h.ctrl.LeaveRoom())
	require.Eventually(t, func() bool { return h.ctrl.State() == StateIdle }, waitFor, tick)

	h.source.Emit("r1", msg("late", "r1", "u2", 9))

	assert.Equal(t, []string{"subscribe:r1", "unsubscribe:r1"}, h.source.Calls())
	assert.Zero(t, h.source.Live())
	assert.Empty(t, h.ctrl.Messages())
	assert.Equal(t, models.StatusClosed, h.ctrl.Status())
}

func TestSubscribeFailureReportsErrorWithoutRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.source.Err = errors.New("channel refused")

	require.NoError(t, h.ctrl.EnterRoom("r1"))

	require.Eventually(t, func() bool { return h.ctrl.Status() == models.StatusError }, waitFor, tick)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Equal(t, []string{"subscribe:r1"}, h.source.Calls())
}

func TestUnexpectedCloseIsSurfaced(t *testing.T) {
	h := newHarness(t, nil)

	h.enter(t, "r1")
	h.source.EmitStatus("r1", models.StatusClosed)

	require.Eventually(t, func() bool { return h.ctrl.Status() == models.StatusClosed }, waitFor, tick)
	assert.Equal(t, []string{"subscribe:r1"}, h.source.Calls())
}

func TestObserversReceiveUpdates(t *testing.T) {
	updates := make(chan []string, 16)
	statuses := make(chan models.ConnectionStatus, 16)
	source := mocks.NewFakeSource()
	store := new(mocks.MessageRepositoryMock)
	store.On("RecentMessages", mock.Anything, "r1", 20).Return([]models.Message{msg("m1", "r1", "u2", 1)}, nil).Once()
	store.On("MarkRoomRead", mock.Anything, "r1", me).Return(int64(0), nil).Maybe()
	prefStore := new(mocks.PreferenceRepositoryMock)
	prefStore.On("GetPreference", mock.Anything, me).Return(models.NotificationPreference{}, nil).Maybe()
	logger := zerolog.Nop()

	ctrl := NewController(Config{UserID: me, PageSize: 20}, Deps{
		Adapter:   realtime.NewAdapter(source, logger),
		Merger:    timeline.NewMerger(store, logger),
		Tracker:   readstate.NewTracker(store, logger),
		Gate:      notify.NewGate(logger),
		Presenter: notify.NewLogPresenter(logger),
		Lifecycle: lifecycle.NewObserver(models.LifecycleActive),
		Prefs:     preferences.NewCache(prefStore, me, logger),
	}, logger,
		OnMessages(func(roomID string, list []models.Message) { updates <- ids(list) }),
		OnStatus(func(roomID string, status models.ConnectionStatus) { statuses <- status }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctrl.Run(ctx) }()

	require.NoError(t, ctrl.EnterRoom("r1"))

	assert.Equal(t, models.StatusConnecting, <-statuses)
	assert.Equal(t, models.StatusSubscribed, <-statuses)
	assert.Equal(t, []string{"m1"}, <-updates)
}

func TestStoppedControllerRejectsWork(t *testing.T) {
	h := newHarness(t, nil)
	h.enter(t, "r1")

	h.cancel()
	<-h.done

	assert.ErrorIs(t, h.ctrl.EnterRoom("r2"), ErrControllerStopped)
	assert.ErrorIs(t, h.ctrl.LeaveRoom(), ErrControllerStopped)
	assert.Zero(t, h.source.Live())
}

func TestEmptyRoomID(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.ctrl.EnterRoom(""), ErrEmptyRoomID)
}

func TestManyInsertsKeepArrivalOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.enter(t, "r1")
	h.waitIDs(t)

	want := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("m%02d", i)
		want = append(want, id)
		h.source.Emit("r1", msg(id, "r1", "u2", i))
	}
	h.waitIDs(t, want...)
}

func TestReenteringAfterSubscriptionEndedResubscribes(t *testing.T) {
	for _, status := range []models.ConnectionStatus{models.StatusError, models.StatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, nil)

			h.enter(t, "r1")
			h.source.EmitStatus("r1", status)
			require.Eventually(t, func() bool { return h.ctrl.Status() == status }, waitFor, tick)

			require.NoError(t, h.ctrl.EnterRoom("r1"))
			require.Eventually(t, func() bool {
				return len(h.source.Calls()) == 3 && h.ctrl.State() == StateActive
			}, waitFor, tick)

			assert.Equal(t, []string{"subscribe:r1", "unsubscribe:r1", "subscribe:r1"}, h.source.Calls())
			assert.Equal(t, models.StatusSubscribed, h.ctrl.Status())
			assert.Equal(t, 1, h.source.Live())

			h.source.Emit("r1", msg("m1", "r1", "u2", 1))
			h.waitIDs(t, "m1")
		})
	}
}

func TestReenteringAfterErrorBeforeAckLeavesOpening(t *testing.T) {
	h := newHarness(t, nil)
	h.source.HoldAck = true

	require.NoError(t, h.ctrl.EnterRoom("r1"))
	require.Eventually(t, func() bool { return h.ctrl.State() == StateOpening && h.ctrl.RoomID() == "r1" }, waitFor, tick)
	h.source.EmitStatus("r1", models.StatusError)
	require.Eventually(t, func() bool { return h.ctrl.Status() == models.StatusError }, waitFor, tick)

	require.NoError(t, h.ctrl.EnterRoom("r1"))
	require.Eventually(t, func() bool { return len(h.source.Calls()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"subscribe:r1", "unsubscribe:r1", "subscribe:r1"}, h.source.Calls())

	h.source.EmitStatus("r1", models.StatusSubscribed)
	require.Eventually(t, func() bool { return h.ctrl.State() == StateActive }, waitFor, tick)
	assert.Equal(t, models.StatusSubscribed, h.ctrl.Status())
}

func TestEventsForPreviousRoomDoNotReachNewRoom(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.store.On("RecentMessages", mock.Anything, "r2", timeline.DefaultPageSize).
			Return([]models.Message{msg("b1", "r2", "u2", 1)}, nil).Once()
	})

	h.enter(t, "r1")
	h.enter(t, "r2")
	h.waitIDs(t, "b1")

	h.source.Emit("r1", msg("a9", "r1", "u2", 2))
	h.source.Emit("r1", msg("x1", "r2", "u2", 3))
	h.source.EmitStatus("r1", models.StatusError)

	assert.Never(t, func() bool {
		return !assert.ObjectsAreEqual([]string{"b1"}, ids(h.ctrl.Messages())) || h.ctrl.Status() != models.StatusSubscribed
	}, 150*time.Millisecond, tick)
	assert.Equal(t, "r2", h.ctrl.RoomID())
}

func TestFailedInitialLoadKeepsSessionLive(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.store.On("RecentMessages", mock.Anything, "r1", timeline.DefaultPageSize).Return(nil, assert.AnError).Once()
	})

	h.enter(t, "r1")
	h.waitIDs(t)

	h.source.Emit("r1", msg("m1", "r1", "u2", 1))
	h.waitIDs(t, "m1")
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.Equal(t, models.StatusSubscribed, h.ctrl.Status())
}

func TestReadCompletedBeforeInitialPageIsApplied(t *testing.T) {
	marked := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(h *harness) {
		h.store.On("MarkRoomRead", mock.Anything, "r1", me).
			Run(func(mock.Arguments) { close(marked) }).
			Return(int64(1), nil).Once()
		h.store.On("RecentMessages", mock.Anything, "r1", timeline.DefaultPageSize).
			Run(func(mock.Arguments) { <-release }).
			Return([]models.Message{msg("m1", "r1", "u2", 1), msg("m2", "r1", me, 2)}, nil).Once()
	})

	h.enter(t, "r1")
	<-marked
	// let the read completion reach the actor before the page does
	time.Sleep(50 * time.Millisecond)
	close(release)

	h.waitIDs(t, "m1", "m2")
	list := h.ctrl.Messages()
	assert.True(t, list[0].IsRead)
	assert.False(t, list[1].IsRead)
}
