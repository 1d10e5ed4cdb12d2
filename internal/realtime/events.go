package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
)

// Wire event names as the server emits them.
const (
	EventGuestJoined      = "room:guest_joined"
	EventGuestLeft        = "room:guest_left"
	EventRoomClosed       = "room:closed"
	EventGameStarted      = "game:started"
	EventScoreUpdated     = "game:score_updated"
	EventOpponentAnswered = "game:opponent_answered"
	EventNextQuestion     = "game:next_question"
	EventGameFinished     = "game:finished"
	EventPaymentSuccess   = "payment:success"
	EventPaymentFailed    = "payment:failed"
)

// Frame is the envelope for every message on the socket, both
// directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded server push. One variant per event kind, so
// consumers type-switch instead of matching on strings.
type Event interface{ isEvent() }

// GuestJoined carries the room snapshot with the guest attached.
type GuestJoined struct {
	Room *battle.Room
}

// GuestLeft has no payload; consumers re-fetch the room.
type GuestLeft struct{}

// RoomClosed means the host left or closed the room.
type RoomClosed struct {
	Message string
}

// GameStarted carries the finalized room, question sequence included.
type GameStarted struct {
	Room *battle.Room
}

// ScoreUpdated carries the authoritative score board only.
type ScoreUpdated struct {
	Scores battle.ScoreBoard
}

// OpponentAnswered flips the per-question display flag.
type OpponentAnswered struct{}

// NextQuestion advances the round to QuestionIndex.
type NextQuestion struct {
	Room          *battle.Room
	QuestionIndex int
}

// GameFinished carries the frozen final room snapshot.
type GameFinished struct {
	Room *battle.Room
}

// Payment is the out-of-band top-up result. It updates profile state,
// not battle state.
type Payment struct {
	Succeeded bool
	Points    int
	Message   string
}

func (GuestJoined) isEvent()      {}
func (GuestLeft) isEvent()        {}
func (RoomClosed) isEvent()       {}
func (GameStarted) isEvent()      {}
func (ScoreUpdated) isEvent()     {}
func (OpponentAnswered) isEvent() {}
func (NextQuestion) isEvent()     {}
func (GameFinished) isEvent()     {}
func (Payment) isEvent()          {}

type roomPayload struct {
	Room *battle.Room `json:"room"`
}

type nextQuestionPayload struct {
	Room          *battle.Room `json:"room"`
	QuestionIndex int          `json:"questionIndex"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type scoresPayload struct {
	Scores battle.ScoreBoard `json:"scores"`
}

type paymentPayload struct {
	Points  int    `json:"points"`
	Message string `json:"message"`
}

// decodeEvent maps a wire frame to its typed variant. Unknown event
// names return (nil, nil); the channel logs and drops them.
func decodeEvent(f Frame) (Event, error) {
	switch f.Event {
	case EventGuestJoined:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return GuestJoined{Room: p.Room}, nil

	case EventGuestLeft:
		return GuestLeft{}, nil

	case EventRoomClosed:
		var p messagePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return RoomClosed{Message: p.Message}, nil

	case EventGameStarted:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return GameStarted{Room: p.Room}, nil

	case EventScoreUpdated:
		var p scoresPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return ScoreUpdated{Scores: p.Scores}, nil

	case EventOpponentAnswered:
		return OpponentAnswered{}, nil

	case EventNextQuestion:
		var p nextQuestionPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return NextQuestion{Room: p.Room, QuestionIndex: p.QuestionIndex}, nil

	case EventGameFinished:
		var p roomPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return GameFinished{Room: p.Room}, nil

	case EventPaymentSuccess, EventPaymentFailed:
		var p paymentPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
		return Payment{Succeeded: f.Event == EventPaymentSuccess, Points: p.Points, Message: p.Message}, nil

	default:
		return nil, nil
	}
}
