// Package session runs the room session state machine. All session state is owned by a single
// goroutine (Run); the public methods post work to it and read published snapshots.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/lifecycle"
	"chat-sync/internal/models"
	"chat-sync/internal/notify"
	"chat-sync/internal/observability"
	"chat-sync/internal/preferences"
	"chat-sync/internal/readstate"
	"chat-sync/internal/realtime"
	"chat-sync/internal/timeline"
)

var (
	ErrControllerStopped = errors.New("session controller stopped")
	ErrEmptyRoomID       = errors.New("room id is required")
)

// State is the room session state.
type State string

const (
	StateIdle    State = "idle"
	StateOpening State = "opening"
	StateActive  State = "active"
	StateClosing State = "closing"
)

const defaultLoadTimeout = 10 * time.Second

// Config holds the per-client settings of a Controller.
type Config struct {
	UserID      string
	PageSize    int
	LoadTimeout time.Duration
}

// Deps are the components a Controller drives.
type Deps struct {
	Adapter   *realtime.Adapter
	Merger    *timeline.Merger
	Tracker   *readstate.Tracker
	Gate      *notify.Gate
	Presenter notify.Presenter
	Lifecycle *lifecycle.Observer
	Prefs     *preferences.Cache
}

// Option configures a Controller.
type Option func(*Controller)

// OnMessages registers fn to receive the room's message list after every change.
// Observers run on the actor goroutine and must not block.
func OnMessages(fn func(roomID string, messages []models.Message)) Option {
	return func(c *Controller) { c.onMessages = fn }
}

// OnStatus registers fn to receive connection status changes.
func OnStatus(fn func(roomID string, status models.ConnectionStatus)) Option {
	return func(c *Controller) { c.onStatus = fn }
}

type view struct {
	state    State
	roomID   string
	status   models.ConnectionStatus
	messages []models.Message
}

// Controller drives at most one room session at a time for the current user.
type Controller struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	tracer trace.Tracer
	box    *mailbox

	onMessages func(string, []models.Message)
	onStatus   func(string, models.ConnectionStatus)

	// owned by the Run goroutine
	runCtx     context.Context
	state      State
	gen        uint64
	roomID     string
	handle     *realtime.Handle
	status     models.ConnectionStatus
	loaded     bool
	readDone   bool
	pending    []models.Message
	sessionCtx context.Context
	cancel     context.CancelFunc

	mu   sync.RWMutex
	view view
}

// NewController builds an idle Controller. Call Run to start processing.
func NewController(cfg Config, deps Deps, logger zerolog.Logger, opts ...Option) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = timeline.DefaultPageSize
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "session").Str("user_id", cfg.UserID).Logger(),
		tracer: otel.Tracer("chat-sync/session"),
		box:    newMailbox(),
		state:  StateIdle,
		view:   view{state: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes session work until ctx is cancelled, then tears down the active session.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer c.box.close()
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case <-c.box.signal:
			for _, task := range c.box.drain() {
				task()
			}
		}
	}
}

// EnterRoom switches the session to roomID. Entering the room that is already open is a no-op
// unless its subscription reported error or closed, in which case the room is subscribed again.
func (c *Controller) EnterRoom(roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if !c.box.post(func() { c.enter(roomID) }) {
		return ErrControllerStopped
	}
	return nil
}

// LeaveRoom closes the active session. Calling it with no session open is a no-op.
func (c *Controller) LeaveRoom() error {
	if !c.box.post(c.teardown) {
		return ErrControllerStopped
	}
	return nil
}

// RefreshPreferences reloads the notification preference after a settings change.
func (c *Controller) RefreshPreferences(ctx context.Context) models.NotificationPreference {
	return c.deps.Prefs.Refresh(ctx)
}

// State returns the session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.state
}

// RoomID returns the room of the current session, or "" when idle.
func (c *Controller) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.roomID
}

// Status returns the last connection status reported for the session.
func (c *Controller) Status() models.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.status
}

// Messages returns a copy of the active room's message list.
func (c *Controller) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.view.messages...)
}

func (c *Controller) enter(roomID string) {
	if c.state != StateIdle && c.roomID == roomID && !c.status.Ended() {
		return
	}
	c.teardown()

	c.gen++
	gen := c.gen
	c.state = StateOpening
	c.roomID = roomID
	c.status = ""
	c.loaded = false
	c.readDone = false
	c.sessionCtx, c.cancel = context.WithCancel(c.runCtx)
	c.publishState()
	c.logger.Info().Str("room_id", roomID).Msg("entering room")

	handle, err := c.deps.Adapter.Open(c.sessionCtx, roomID, realtime.Handlers{
		Insert: func(msg models.Message) { c.box.post(func() { c.handleInsert(gen, msg) }) },
		Status: func(status models.ConnectionStatus) { c.box.post(func() { c.handleStatus(gen, status) }) },
	})
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", roomID).Msg("room subscription failed")
		c.teardown()
		c.setStatus(roomID, models.StatusError)
		return
	}
	c.handle = handle

	ctx := c.sessionCtx
	go c.deps.Prefs.Get(ctx)
	c.markRead(gen)
	go c.loadInitial(ctx, gen, roomID)
}

func (c *Controller) loadInitial(ctx context.Context, gen uint64, roomID string) {
	ctx, span := c.tracer.Start(ctx, "timeline.load_initial", trace.WithAttributes(attribute.String("room_id", roomID)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LoadTimeout)
	defer cancel()

	page, err := c.deps.Merger.LoadInitial(ctx, roomID, c.cfg.PageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
	}
	c.box.post(func() { c.handleLoaded(gen, page, err) })
}

func (c *Controller) handleLoaded(gen uint64, page []models.Message, err error) {
	if gen != c.gen {
		c.logger.Debug().Uint64("generation", gen).Msg("discarding stale initial page")
		return
	}
	if err != nil {
		c.logger.Error().Err(err).Str("room_id", c.roomID).Msg("initial load failed, showing live messages only")
	}
	list := c.deps.Merger.Install(c.roomID, page)
	// the start-of-session read may have committed before the page was read
	if c.readDone && c.deps.Merger.MarkReadLocally(c.cfg.UserID) > 0 {
		list = c.deps.Merger.Snapshot()
	}
	c.loaded = true
	c.publishMessages(list)

	queued := c.pending
	c.pending = nil
	for _, msg := range queued {
		c.apply(gen, msg)
	}
}

func (c *Controller) handleInsert(gen uint64, msg models.Message) {
	if gen != c.gen || c.state == StateIdle {
		observability.IncSyncInsert("stale")
		return
	}
	if !c.loaded {
		c.pending = append(c.pending, msg)
		return
	}
	c.apply(gen, msg)
}

// apply runs merge, then read marking, then the notification gate.
func (c *Controller) apply(gen uint64, msg models.Message) {
	list, applied := c.deps.Merger.ApplyInsert(msg)
	if !applied {
		observability.IncSyncInsert("duplicate")
		return
	}
	observability.IncSyncInsert("applied")
	c.publishMessages(list)
	c.markRead(gen)
	c.evaluate(msg)
}

func (c *Controller) markRead(gen uint64) {
	ctx, roomID := c.sessionCtx, c.roomID
	go func() {
		ctx, span := c.tracer.Start(ctx, "readstate.mark_room_read", trace.WithAttributes(attribute.String("room_id", roomID)))
		defer span.End()
		_, err := c.deps.Tracker.MarkRoomRead(ctx, roomID, c.cfg.UserID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mark read failed")
		}
		c.box.post(func() { c.handleMarked(gen, err) })
	}()
}

func (c *Controller) handleMarked(gen uint64, err error) {
	if gen != c.gen {
		c.logger.Debug().Uint64("generation", gen).Msg("discarding stale read completion")
		return
	}
	if err != nil {
		return
	}
	c.readDone = true
	if c.deps.Merger.MarkReadLocally(c.cfg.UserID) > 0 {
		c.publishMessages(c.deps.Merger.Snapshot())
	}
}

func (c *Controller) evaluate(msg models.Message) {
	pref, ok := c.deps.Prefs.Latest()
	if !ok {
		go c.deps.Prefs.Get(c.sessionCtx)
	}
	decision := c.deps.Gate.Evaluate(msg, c.deps.Lifecycle.Current(), pref, ok, c.cfg.UserID)
	if !decision.Deliver {
		return
	}
	n := *decision.Notification
	ctx := c.runCtx
	go func() {
		if err := c.deps.Presenter.Present(ctx, n); err != nil {
			c.logger.Warn().Err(err).Str("room_id", n.Data.RoomID).Msg("present notification failed")
		}
	}()
}

func (c *Controller) handleStatus(gen uint64, status models.ConnectionStatus) {
	if gen != c.gen || c.state == StateIdle {
		return
	}
	if status == models.StatusSubscribed && c.state == StateOpening {
		c.state = StateActive
		c.publishState()
	}
	c.status = status
	if status.Ended() {
		c.logger.Warn().Str("room_id", c.roomID).Str("status", string(status)).Msg("room subscription ended")
	}
	c.setStatus(c.roomID, status)
}

// teardown closes the subscription before discarding session state. It is idempotent.
func (c *Controller) teardown() {
	if c.state == StateIdle {
		return
	}
	roomID := c.roomID
	c.state = StateClosing
	c.publishState()

	c.deps.Adapter.Close(c.handle)
	c.handle = nil
	c.deps.Merger.Reset()
	c.pending = nil
	c.loaded = false
	c.readDone = false
	c.status = ""
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.deps.Prefs.Reset()

	c.gen++
	c.roomID = ""
	c.state = StateIdle
	c.mu.Lock()
	c.view = view{state: StateIdle, status: models.StatusClosed}
	c.mu.Unlock()
	c.logger.Info().Str("room_id", roomID).Msg("left room")
	if c.onStatus != nil {
		c.onStatus(roomID, models.StatusClosed)
	}
}

func (c *Controller) publishState() {
	c.mu.Lock()
	c.view.state = c.state
	c.view.roomID = c.roomID
	if c.state == StateOpening {
		c.view.messages = nil
	}
	c.mu.Unlock()
}

func (c *Controller) publishMessages(list []models.Message) {
	c.mu.Lock()
	c.view.messages = list
	c.mu.Unlock()
	if c.onMessages != nil {
		c.onMessages(c.roomID, list)
	}
}

func (c *Controller) setStatus(roomID string, status models.ConnectionStatus) {
	c.mu.Lock()
	c.view.status = status
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(roomID, status)
	}
}
