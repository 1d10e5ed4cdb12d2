// Package round runs a started game: the preparation countdown, the
// timed question loop, and the handoff to the result screen. Question
// advancement is entirely server-driven; the loop only counts down,
// submits answers, and mirrors pushes.
package round

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/api"
	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
)

// AnswerService is the slice of the REST client the round needs.
type AnswerService interface {
	SubmitAnswer(ctx context.Context, code, vocabID, answer string, timeSpentMs int) error
}

// Phase of the round. Finished and Aborted are terminal.
type Phase string

const (
	PhasePreparing Phase = "preparing"
	PhasePlaying   Phase = "playing"
	PhaseFinished  Phase = "finished"
	PhaseAborted   Phase = "aborted"
)

// Hint is the local right/wrong color cue shown the moment an option is
// tapped. It is presentation only and never feeds the score display;
// the authoritative signal is the server's score push.
type Hint string

const (
	HintNone    Hint = ""
	HintCorrect Hint = "correct"
	HintWrong   Hint = "wrong"
)

// Snapshot is the render state of the round screen.
type Snapshot struct {
	Phase            Phase
	QuestionIndex    int
	Question         battle.Question // zero value outside Playing
	Remaining        int             // seconds left on the active countdown
	Selected         string          // locally chosen option, "" if none yet
	Resolved         bool            // an answer (choice or timeout) went out
	Hint             Hint
	OpponentAnswered bool
	Scores           battle.ScoreBoard // authoritative, push-fed
	Notice           string
	Room             *battle.Room // final snapshot, set on PhaseFinished
}

type msg interface{ isRoundMsg() }

type selectOption struct{ text string }
type submitFailed struct{ err error }

func (selectOption) isRoundMsg() {}
func (submitFailed) isRoundMsg() {}

// Config wires a Controller. Room is the game:started snapshot and is
// the only room state the round ever fetches; everything later comes
// from pushes.
type Config struct {
	Room    *battle.Room
	Viewer  battle.User
	Answers AnswerService
	Events  <-chan realtime.Event
	Detach  func()
	Logger  *zap.Logger
}

// Controller is a single-goroutine actor owning all round state,
// including the one active countdown.
type Controller struct {
	cfg     Config
	log     *zap.Logger
	inbox   chan msg
	updates chan Snapshot

	room      *battle.Room
	phase     Phase
	qIndex    int
	remaining int
	selected  string
	resolved  bool
	hint      Hint
	oppDone   bool
	scores    battle.ScoreBoard
	notice    string

	questionStart time.Time
	ticker        *time.Ticker
}

// New starts the round loop on the given room snapshot.
func New(ctx context.Context, cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		cfg:     cfg,
		log:     log.Named("round").With(zap.String("room", cfg.Room.Code)),
		inbox:   make(chan msg, 64),
		updates: make(chan Snapshot, 16),
		room:    cfg.Room,
		phase:   PhasePreparing,
		scores:  cfg.Room.Scores,
	}
	go c.loop(ctx)
	return c
}

// Updates is the snapshot stream for the UI. Closed when the round is
// over.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// Select submits the given option for the current question. Ignored
// when the question is already resolved, so selection and timeout can
// never both submit.
func (c *Controller) Select(option string) {
	select {
	case c.inbox <- selectOption{text: option}:
	default:
	}
}

func (c *Controller) loop(ctx context.Context) {
	defer func() {
		c.stopTimer()
		if c.cfg.Detach != nil {
			c.cfg.Detach()
		}
		close(c.updates)
	}()

	if c.room.Settings.PrepareTimeSeconds > 0 {
		c.armTimer(c.room.Settings.PrepareTimeSeconds)
		c.publish()
	} else {
		c.enterQuestion(0)
	}

	for {
		// a stopped countdown leaves tickC nil, which never fires
		var tickC <-chan time.Time
		if c.ticker != nil {
			tickC = c.ticker.C
		}

		select {
		case <-ctx.Done():
			return

		case <-tickC:
			if done := c.onTick(ctx); done {
				return
			}

		case ev, ok := <-c.cfg.Events:
			if !ok {
				return
			}
			if done := c.handleEvent(ctx, ev); done {
				return
			}

		case m := <-c.inbox:
			c.handleMsg(ctx, m)
		}
	}
}

func (c *Controller) onTick(ctx context.Context) bool {
	c.remaining--
	if c.remaining > 0 {
		c.publish()
		return false
	}

	// exactly one trigger per countdown: stop before acting on zero
	c.remaining = 0
	c.stopTimer()

	switch c.phase {
	case PhasePreparing:
		c.enterQuestion(0)

	case PhasePlaying:
		if !c.resolved {
			// timeout: empty answer, full time budget
			c.resolved = true
			c.submit(ctx, "", c.room.Settings.TimePerQuestionSeconds*1000)
		}
		c.publish()
	}
	return false
}

// handleEvent returns true when the round reached a terminal phase.
func (c *Controller) handleEvent(ctx context.Context, ev realtime.Event) bool {
	switch ev := ev.(type) {
	case realtime.ScoreUpdated:
		c.scores = ev.Scores
		c.publish()

	case realtime.OpponentAnswered:
		c.oppDone = true
		c.publish()

	case realtime.NextQuestion:
		if c.phase == PhaseFinished {
			return false
		}
		// server pushes always win: any local countdown state for the
		// previous question is discarded wholesale
		if ev.Room != nil {
			c.room = ev.Room
		}
		c.enterQuestion(ev.QuestionIndex)

	case realtime.GameFinished:
		c.stopTimer()
		c.phase = PhaseFinished
		if ev.Room != nil {
			c.room = ev.Room
		}
		c.publishFinal(ctx)
		return true

	case realtime.RoomClosed:
		c.stopTimer()
		c.phase = PhaseAborted
		c.notice = ev.Message
		c.publishFinal(ctx)
		return true
	}
	return false
}

func (c *Controller) handleMsg(ctx context.Context, m msg) {
	switch m := m.(type) {
	case selectOption:
		if c.phase != PhasePlaying || c.resolved {
			return
		}
		q, ok := c.room.QuestionAt(c.qIndex)
		if !ok {
			return
		}
		c.resolved = true
		c.selected = m.text
		if m.text == q.Meaning {
			c.hint = HintCorrect
		} else {
			c.hint = HintWrong
		}
		c.submit(ctx, m.text, int(time.Since(c.questionStart).Milliseconds()))
		c.publish()

	case submitFailed:
		// the guard stays set: one submission attempt per question
		c.notice = api.UserMessage(m.err)
		c.publish()
		c.notice = ""
	}
}

func (c *Controller) enterQuestion(i int) {
	c.phase = PhasePlaying
	c.qIndex = i
	c.selected = ""
	c.resolved = false
	c.hint = HintNone
	c.oppDone = false
	c.questionStart = time.Now()
	c.armTimer(c.room.Settings.TimePerQuestionSeconds)
	c.publish()
}

func (c *Controller) submit(ctx context.Context, answer string, timeSpentMs int) {
	q, ok := c.room.QuestionAt(c.qIndex)
	if !ok {
		c.log.Warn("no question at index, skipping submit", zap.Int("index", c.qIndex))
		return
	}
	code := c.room.Code
	go func() {
		if err := c.cfg.Answers.SubmitAnswer(ctx, code, q.VocabID, answer, timeSpentMs); err != nil {
			c.log.Warn("answer submit failed", zap.String("vocab", q.VocabID), zap.Error(err))
			select {
			case c.inbox <- submitFailed{err: err}:
			default:
			}
		}
	}()
}

func (c *Controller) armTimer(seconds int) {
	c.stopTimer()
	c.remaining = seconds
	c.ticker = time.NewTicker(time.Second)
}

func (c *Controller) stopTimer() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Phase:            c.phase,
		QuestionIndex:    c.qIndex,
		Remaining:        c.remaining,
		Selected:         c.selected,
		Resolved:         c.resolved,
		Hint:             c.hint,
		OpponentAnswered: c.oppDone,
		Scores:           c.scores,
		Notice:           c.notice,
	}
	if c.phase == PhasePlaying {
		if q, ok := c.room.QuestionAt(c.qIndex); ok {
			s.Question = q
		}
	}
	if c.phase == PhaseFinished {
		s.Room = c.room
	}
	return s
}

func (c *Controller) publish() {
	select {
	case c.updates <- c.snapshot():
	default:
		c.log.Warn("updates consumer behind, dropping snapshot")
	}
}

// publishFinal delivers the terminal snapshot losslessly. Ticks and
// score updates may be dropped under backpressure, but the finished or
// aborted snapshot is the handoff to the result screen and must land
// before updates closes; the loop is exiting anyway, so blocking here
// is fine.
func (c *Controller) publishFinal(ctx context.Context) {
	select {
	case c.updates <- c.snapshot():
	case <-ctx.Done():
	}
}
