package battle

import "strings"

// Role identifies a player's seat in a room. The server keys the score
// board by role, not by user id.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// User is the summary the server attaches to rooms and answers.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Settings are fixed at room creation and drive both countdowns.
type Settings struct {
	PrepareTimeSeconds     int `json:"prepareTimeSeconds"`
	TimePerQuestionSeconds int `json:"timePerQuestionSeconds"`
}

// Question is one vocabulary item to guess. Meaning is the correct
// option; it is sent with the question so the client can show an
// immediate right/wrong hint, but correctness on record is always the
// server's Answer.IsCorrect.
type Question struct {
	Index   int      `json:"index"`
	VocabID string   `json:"vocabId"`
	Word    string   `json:"word"`
	Meaning string   `json:"meaning"`
	Options []string `json:"options"`
}

// Answer is appended by the server per submission. ChosenText is empty
// when the submission came from a timeout. The client only reads these.
type Answer struct {
	UserID      string `json:"userId"`
	VocabID     string `json:"vocabId"`
	ChosenText  string `json:"chosenText"`
	TimeSpentMs int    `json:"timeSpentMs"`
	IsCorrect   bool   `json:"isCorrect"`
}

// ScoreBoard mirrors the server's role-keyed score object.
type ScoreBoard map[Role]int

// Room is the server's snapshot of a match session. It is mutated only
// by adopting fresh snapshots from REST responses or push events; the
// final game:finished snapshot is frozen for the result screen.
type Room struct {
	Code      string     `json:"roomCode"`
	Host      User       `json:"host"`
	Guest     *User      `json:"guest,omitempty"`
	Settings  Settings   `json:"settings"`
	Questions []Question `json:"questions,omitempty"`
	Scores    ScoreBoard `json:"scores,omitempty"`
	Winner    *User      `json:"winner,omitempty"`
	Answers   []Answer   `json:"answers,omitempty"`
}

// NormalizeCode upper-cases a user-typed room code the way the server
// stores it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RoleOf reports the seat the given user occupies, or "" if they are
// not a member.
func (r *Room) RoleOf(u User) Role {
	if r.Host.ID == u.ID {
		return RoleHost
	}
	if r.Guest != nil && r.Guest.ID == u.ID {
		return RoleGuest
	}
	return ""
}

// Opponent returns the other member, if any.
func (r *Room) Opponent(u User) *User {
	switch r.RoleOf(u) {
	case RoleHost:
		return r.Guest
	case RoleGuest:
		host := r.Host
		return &host
	default:
		return nil
	}
}

// QuestionAt bounds-checks the index into the question sequence.
func (r *Room) QuestionAt(i int) (Question, bool) {
	if i < 0 || i >= len(r.Questions) {
		return Question{}, false
	}
	return r.Questions[i], true
}
