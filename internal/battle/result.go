package battle

import "math"

// Outcome of a finished round from one viewer's perspective.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Result is the derived view of a final room snapshot. Everything here
// is computed from server-authoritative data; nothing feeds back.
type Result struct {
	Outcome       Outcome
	IsHost        bool
	MyScore       int
	OpponentScore int
	AccuracyPct   int
	Correct       int
	Total         int
}

// Summarize derives the result screen's numbers from the final room
// snapshot and the viewing user. Pure; no network or realtime activity.
func Summarize(room *Room, viewer User) Result {
	isHost := room.Host.ID == viewer.ID

	myRole, oppRole := RoleHost, RoleGuest
	if !isHost {
		myRole, oppRole = RoleGuest, RoleHost
	}

	res := Result{
		IsHost:        isHost,
		MyScore:       room.Scores[myRole],
		OpponentScore: room.Scores[oppRole],
		Total:         len(room.Questions),
	}

	switch {
	case room.Winner == nil:
		res.Outcome = OutcomeDraw
	case room.Winner.ID == viewer.ID:
		res.Outcome = OutcomeWin
	default:
		res.Outcome = OutcomeLoss
	}

	for _, a := range room.Answers {
		if a.UserID == viewer.ID && a.IsCorrect {
			res.Correct++
		}
	}
	if res.Total > 0 {
		res.AccuracyPct = int(math.Round(float64(res.Correct) / float64(res.Total) * 100))
	}
	return res
}
