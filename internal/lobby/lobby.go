// Package lobby drives the waiting-room screen: an initial REST fetch
// combined with membership pushes, and the host-side start gate.
package lobby

import (
	"context"

	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/api"
	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
)

// RoomService is the slice of the REST client the lobby needs.
type RoomService interface {
	Room(ctx context.Context, code string) (*battle.Room, error)
	StartGame(ctx context.Context, code string) error
	LeaveRoom(ctx context.Context, code string) error
}

// Stage of the lobby screen. Started/Closed/Left/Failed are terminal;
// after one of those the updates channel is closed.
type Stage string

const (
	StageLoading  Stage = "loading"
	StageReady    Stage = "ready"
	StageStarting Stage = "starting"
	StageStarted  Stage = "started"
	StageClosed   Stage = "closed"
	StageLeft     Stage = "left"
	StageFailed   Stage = "failed"
)

// Snapshot is what the UI renders. Room is the freshest server
// snapshot; on StageStarted it is the finalized room, questions
// included, to be handed to the round as-is.
type Snapshot struct {
	Stage  Stage
	Room   *battle.Room
	Notice string
}

type msg interface{ isLobbyMsg() }

type requestStart struct{}
type leaveRoom struct{}
type fetched struct {
	room *battle.Room
	err  error
}
type startFailed struct{ err error }

func (requestStart) isLobbyMsg() {}
func (leaveRoom) isLobbyMsg()    {}
func (fetched) isLobbyMsg()      {}
func (startFailed) isLobbyMsg()  {}

// Config wires a Controller. Events is a realtime subscription channel;
// Detach is its cleanup and runs exactly once when the loop exits.
type Config struct {
	RoomCode string
	Viewer   battle.User
	Rooms    RoomService
	Events   <-chan realtime.Event
	Detach   func()
	Logger   *zap.Logger
}

// Controller is a single-goroutine actor. All state lives in the loop;
// the exported methods only enqueue messages.
type Controller struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan msg
	updates chan Snapshot

	room     *battle.Room
	stage    Stage
	starting bool
}

// New starts the lobby loop. The loop ends on a terminal stage or when
// ctx is cancelled, closing Updates either way.
func New(ctx context.Context, cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		cfg:     cfg,
		log:     log.Named("lobby").With(zap.String("room", cfg.RoomCode)),
		inbox:   make(chan msg, 64),
		updates: make(chan Snapshot, 16),
		stage:   StageLoading,
	}
	go c.loop(ctx)
	return c
}

// Updates is the snapshot stream for the UI. Closed when the lobby is
// done.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// RequestStart asks to begin the game. Refused locally, with no
// network call, unless the viewer is the host and a guest is present.
func (c *Controller) RequestStart() { c.send(requestStart{}) }

// Leave exits the room. Best-effort: the REST call may fail, the lobby
// still ends.
func (c *Controller) Leave() { c.send(leaveRoom{}) }

func (c *Controller) send(m msg) {
	select {
	case c.inbox <- m:
	default:
		// loop gone or saturated; either way the command is moot
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer func() {
		if c.cfg.Detach != nil {
			c.cfg.Detach()
		}
		close(c.updates)
	}()

	c.publish(Snapshot{Stage: StageLoading})
	c.fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-c.cfg.Events:
			if !ok {
				return
			}
			if done := c.handleEvent(ctx, ev); done {
				return
			}

		case m := <-c.inbox:
			if done := c.handleMsg(ctx, m); done {
				return
			}
		}
	}
}

// handleEvent returns true when the lobby reached a terminal stage.
func (c *Controller) handleEvent(ctx context.Context, ev realtime.Event) bool {
	switch ev := ev.(type) {
	case realtime.GuestJoined:
		if ev.Room != nil {
			c.room = ev.Room
			// a stale joined retry must not knock a start-in-flight back
			// to Ready on screen
			stage := c.stage
			if stage != StageStarting {
				stage = StageReady
			}
			c.publish(Snapshot{Stage: stage, Room: c.room})
		}

	case realtime.GuestLeft:
		// the push carries no payload; re-fetch for the authoritative
		// empty-guest snapshot instead of patching locally
		c.fetch(ctx)

	case realtime.RoomClosed:
		c.publishFinal(ctx, Snapshot{Stage: StageClosed, Notice: ev.Message})
		return true

	case realtime.GameStarted:
		// this pushed snapshot is the one the whole round runs on
		c.publishFinal(ctx, Snapshot{Stage: StageStarted, Room: ev.Room})
		return true
	}
	return false
}

func (c *Controller) handleMsg(ctx context.Context, m msg) bool {
	switch m := m.(type) {
	case fetched:
		if m.err != nil {
			c.log.Warn("room fetch failed", zap.Error(m.err))
			c.publishFinal(ctx, Snapshot{Stage: StageFailed, Notice: api.UserMessage(m.err)})
			return true
		}
		c.room = m.room
		stage := c.stage
		if stage != StageStarting {
			stage = StageReady
		}
		c.publish(Snapshot{Stage: stage, Room: c.room})

	case requestStart:
		if c.starting {
			return false
		}
		if c.room == nil || c.room.Host.ID != c.cfg.Viewer.ID {
			c.log.Warn("start refused: not host")
			return false
		}
		if c.room.Guest == nil {
			c.publish(Snapshot{Stage: c.stage, Room: c.room, Notice: "Waiting for an opponent to join"})
			return false
		}
		c.starting = true
		c.publish(Snapshot{Stage: StageStarting, Room: c.room})
		go func() {
			if err := c.cfg.Rooms.StartGame(ctx, c.cfg.RoomCode); err != nil {
				c.send(startFailed{err: err})
			}
			// success arrives as a game:started push, not here
		}()

	case startFailed:
		c.starting = false
		c.publish(Snapshot{Stage: StageReady, Room: c.room, Notice: api.UserMessage(m.err)})

	case leaveRoom:
		go func() {
			if err := c.cfg.Rooms.LeaveRoom(ctx, c.cfg.RoomCode); err != nil {
				c.log.Warn("leave failed", zap.Error(err))
			}
		}()
		c.publishFinal(ctx, Snapshot{Stage: StageLeft})
		return true
	}
	return false
}

func (c *Controller) fetch(ctx context.Context) {
	go func() {
		room, err := c.cfg.Rooms.Room(ctx, c.cfg.RoomCode)
		c.send(fetched{room: room, err: err})
	}()
}

func (c *Controller) publish(s Snapshot) {
	c.stage = s.Stage
	select {
	case c.updates <- s:
	default:
		c.log.Warn("updates consumer behind, dropping snapshot", zap.String("stage", string(s.Stage)))
	}
}

// publishFinal delivers a terminal snapshot losslessly. Intermediate
// snapshots may be dropped under backpressure, but the last one is the
// handoff and must reach the consumer before updates closes; the loop
// is exiting anyway, so blocking here is fine.
func (c *Controller) publishFinal(ctx context.Context, s Snapshot) {
	c.stage = s.Stage
	select {
	case c.updates <- s:
	case <-ctx.Done():
	}
}
