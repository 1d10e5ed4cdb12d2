package lobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
)

var (
	alice = battle.User{ID: "u1", DisplayName: "Alice"}
	bob   = battle.User{ID: "u2", DisplayName: "Bob"}
)

type fakeRooms struct {
	mu       sync.Mutex
	room     *battle.Room
	fetchErr error
	startErr error
	leaveErr error
	fetches  int
	starts   int
	leaves   int
}

func (f *fakeRooms) Room(ctx context.Context, code string) (*battle.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cp := *f.room
	return &cp, nil
}

func (f *fakeRooms) StartGame(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeRooms) LeaveRoom(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func (f *fakeRooms) counts() (fetches, starts, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.starts, f.leaves
}

func hostedRoom(guest *battle.User) *battle.Room {
	return &battle.Room{
		Code:     "AB12CD",
		Host:     alice,
		Guest:    guest,
		Settings: battle.Settings{PrepareTimeSeconds: 10, TimePerQuestionSeconds: 15},
	}
}

// waitStage drains updates until the wanted stage shows up.
func waitStage(t *testing.T, ch <-chan Snapshot, want Stage, within time.Duration) Snapshot {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("updates closed before reaching stage %q", want)
			}
			if snap.Stage == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for stage %q", want)
		}
	}
}

func waitClosed(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("updates channel not closed")
		}
	}
}

type lobbyFixture struct {
	ctrl     *Controller
	rooms    *fakeRooms
	events   chan realtime.Event
	detached atomic.Int32
}

func startLobby(t *testing.T, rooms *fakeRooms, viewer battle.User) *lobbyFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	fx := &lobbyFixture{rooms: rooms, events: make(chan realtime.Event, 8)}
	fx.ctrl = New(ctx, Config{
		RoomCode: "AB12CD",
		Viewer:   viewer,
		Rooms:    rooms,
		Events:   fx.events,
		Detach:   func() { fx.detached.Add(1) },
	})
	return fx
}

func TestLobby_LoadsRoomOnMount(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)

	snap := waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)
	require.NotNil(t, snap.Room)
	assert.Equal(t, "AB12CD", snap.Room.Code)
	assert.Nil(t, snap.Room.Guest)
}

func TestLobby_LoadFailureIsTerminal(t *testing.T) {
	rooms := &fakeRooms{fetchErr: errors.New("boom")}
	fx := startLobby(t, rooms, alice)

	snap := waitStage(t, fx.ctrl.Updates(), StageFailed, time.Second)
	assert.NotEmpty(t, snap.Notice)
	waitClosed(t, fx.ctrl.Updates(), time.Second)
}

func TestLobby_GuestJoinedAdoptsPushedSnapshot(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.events <- realtime.GuestJoined{Room: hostedRoom(&bob)}

	deadline := time.After(time.Second)
	for {
		select {
		case snap := <-fx.ctrl.Updates():
			if snap.Room != nil && snap.Room.Guest != nil {
				assert.Equal(t, bob.ID, snap.Room.Guest.ID)
				return
			}
		case <-deadline:
			t.Fatal("guest never appeared")
		}
	}
}

func TestLobby_GuestLeftRefetchesAuthoritativeState(t *testing.T) {
	// guest_joined then guest_left before any re-fetch: the re-fetch
	// result (no guest) must win over the stale joined snapshot
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.events <- realtime.GuestJoined{Room: hostedRoom(&bob)}
	fx.events <- realtime.GuestLeft{}

	require.Eventually(t, func() bool {
		fetches, _, _ := rooms.counts()
		return fetches >= 2
	}, time.Second, 10*time.Millisecond)

	// drain: the freshest Ready snapshot has no guest
	var last Snapshot
	deadline := time.After(500 * time.Millisecond)
drain:
	for {
		select {
		case snap, ok := <-fx.ctrl.Updates():
			if !ok {
				break drain
			}
			last = snap
		case <-deadline:
			break drain
		}
	}
	require.NotNil(t, last.Room)
	assert.Nil(t, last.Room.Guest)
}

func TestLobby_RoomClosedIsTerminalWithMessage(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.events <- realtime.RoomClosed{Message: "The host closed the room"}

	snap := waitStage(t, fx.ctrl.Updates(), StageClosed, time.Second)
	assert.Equal(t, "The host closed the room", snap.Notice)
	waitClosed(t, fx.ctrl.Updates(), time.Second)
}

func TestLobby_GameStartedHandsOffPushedRoom(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	started := hostedRoom(&bob)
	started.Questions = []battle.Question{{Index: 0, VocabID: "v1", Word: "cat", Meaning: "con mèo"}}
	fx.events <- realtime.GameStarted{Room: started}

	snap := waitStage(t, fx.ctrl.Updates(), StageStarted, time.Second)
	require.NotNil(t, snap.Room)
	require.Len(t, snap.Room.Questions, 1)
	waitClosed(t, fx.ctrl.Updates(), time.Second)

	// the realtime subscription is detached exactly once on exit
	require.Eventually(t, func() bool { return fx.detached.Load() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestLobby_StartedSnapshotSurvivesBackpressure(t *testing.T) {
	// a consumer that falls behind may lose intermediate snapshots, but
	// never the Started handoff that carries the question sequence
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	// overflow the updates buffer without draining it
	for i := 0; i < 40; i++ {
		fx.events <- realtime.GuestJoined{Room: hostedRoom(&bob)}
	}
	started := hostedRoom(&bob)
	started.Questions = []battle.Question{{Index: 0, VocabID: "v1", Word: "cat", Meaning: "con mèo"}}
	fx.events <- realtime.GameStarted{Room: started}

	snap := waitStage(t, fx.ctrl.Updates(), StageStarted, 2*time.Second)
	require.NotNil(t, snap.Room)
	require.Len(t, snap.Room.Questions, 1)
	waitClosed(t, fx.ctrl.Updates(), time.Second)
}

func TestLobby_GuestJoinedWhileStartingKeepsStartingStage(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.RequestStart()
	waitStage(t, fx.ctrl.Updates(), StageStarting, time.Second)

	// a duplicate joined push mid-start must not flip the screen back
	fx.events <- realtime.GuestJoined{Room: hostedRoom(&bob)}

	select {
	case snap, ok := <-fx.ctrl.Updates():
		require.True(t, ok, "updates closed unexpectedly")
		assert.Equal(t, StageStarting, snap.Stage)
		require.NotNil(t, snap.Room)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after the joined push")
	}
}

func TestLobby_RequestStartWithoutGuestMakesNoCall(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(nil)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.RequestStart()

	snap := waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)
	assert.NotEmpty(t, snap.Notice)
	_, starts, _ := rooms.counts()
	assert.Zero(t, starts)
}

func TestLobby_RequestStartByGuestMakesNoCall(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob)}
	fx := startLobby(t, rooms, bob)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.RequestStart()

	time.Sleep(100 * time.Millisecond)
	_, starts, _ := rooms.counts()
	assert.Zero(t, starts)
}

func TestLobby_RequestStartWithGuestCallsOnce(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob)}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.RequestStart()
	fx.ctrl.RequestStart() // double tap must not double the call

	waitStage(t, fx.ctrl.Updates(), StageStarting, time.Second)
	time.Sleep(100 * time.Millisecond)
	_, starts, _ := rooms.counts()
	assert.Equal(t, 1, starts)
}

func TestLobby_StartFailureReturnsToReady(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob), startErr: errors.New("boom")}
	fx := startLobby(t, rooms, alice)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.RequestStart()
	waitStage(t, fx.ctrl.Updates(), StageStarting, time.Second)

	snap := waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)
	assert.NotEmpty(t, snap.Notice)
}

func TestLobby_LeaveIsBestEffort(t *testing.T) {
	rooms := &fakeRooms{room: hostedRoom(&bob), leaveErr: errors.New("network down")}
	fx := startLobby(t, rooms, bob)
	waitStage(t, fx.ctrl.Updates(), StageReady, time.Second)

	fx.ctrl.Leave()

	waitStage(t, fx.ctrl.Updates(), StageLeft, time.Second)
	waitClosed(t, fx.ctrl.Updates(), time.Second)
	require.Eventually(t, func() bool {
		_, _, leaves := rooms.counts()
		return leaves == 1
	}, time.Second, 10*time.Millisecond)
}
