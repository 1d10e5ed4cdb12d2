// Command battle is a terminal client for the real-time vocabulary
// battle: create or join a room, wait in the lobby, answer the timed
// questions, see the result.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/api"
	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
	"github.com/hoangptkd/english-vocab1-sub000/internal/config"
	"github.com/hoangptkd/english-vocab1-sub000/internal/lobby"
	"github.com/hoangptkd/english-vocab1-sub000/internal/profile"
	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
	"github.com/hoangptkd/english-vocab1-sub000/internal/round"
)

func main() {
	create := flag.Bool("create", false, "create a new room")
	join := flag.String("join", "", "join a room by code")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()
	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "BATTLE_TOKEN is required")
		os.Exit(1)
	}
	if !*create && *join == "" {
		fmt.Fprintln(os.Stderr, "pass -create or -join CODE")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	viewer := battle.User{ID: cfg.UserID, DisplayName: cfg.DisplayName}
	prof := profile.New(logger)

	channel := realtime.New(realtime.Config{
		URL:               cfg.SocketURL,
		Token:             func() string { return cfg.Token },
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		PaymentHook:       prof.ApplyPayment,
		Logger:            logger,
	})
	channel.Connect(ctx)
	defer channel.Close()

	client := api.New(cfg.APIBaseURL, func() string { return cfg.Token }, logger)

	var room *battle.Room
	if *create {
		room, err = client.CreateRoom(ctx)
	} else {
		room, err = client.JoinRoom(ctx, *join)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, api.UserMessage(err))
		os.Exit(1)
	}
	fmt.Printf("Room %s. Share this code with your opponent.\n", room.Code)

	lines := readLines()

	started := runLobby(ctx, channel, client, room.Code, viewer, lines, logger)
	if started == nil {
		return
	}

	final := runRound(ctx, channel, client, started, viewer, lines, logger)
	if final == nil {
		return
	}
	printResult(final, viewer)
}

// readLines feeds stdin lines to the UI loops.
func readLines() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			out <- strings.TrimSpace(sc.Text())
		}
	}()
	return out
}

// runLobby blocks until the game starts or the lobby ends, returning
// the started room or nil.
func runLobby(ctx context.Context, channel *realtime.Channel, client *api.Client,
	code string, viewer battle.User, lines <-chan string, logger *zap.Logger) *battle.Room {

	events, sub := channel.Subscribe(32)
	lc := lobby.New(ctx, lobby.Config{
		RoomCode: code,
		Viewer:   viewer,
		Rooms:    client,
		Events:   events,
		Detach:   sub.Close,
		Logger:   logger,
	})

	fmt.Println(`Type "start" to begin (host only) or "leave" to exit.`)
	updates := lc.Updates()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			switch snap.Stage {
			case lobby.StageReady:
				renderLobby(snap.Room, viewer)
			case lobby.StageStarting:
				fmt.Println("Starting…")
			case lobby.StageStarted:
				fmt.Println("Game on!")
				return snap.Room
			case lobby.StageClosed:
				fmt.Println(snap.Notice)
				return nil
			case lobby.StageFailed:
				fmt.Println(snap.Notice)
				return nil
			case lobby.StageLeft:
				return nil
			}
			if snap.Notice != "" && snap.Stage == lobby.StageReady {
				fmt.Println(snap.Notice)
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil // stdin closed; keep waiting on updates
				lc.Leave()
				continue
			}
			switch line {
			case "start":
				lc.RequestStart()
			case "leave", "quit":
				lc.Leave()
			}
		}
	}
}

func renderLobby(room *battle.Room, viewer battle.User) {
	if room == nil {
		return
	}
	fmt.Printf("Host: %s", room.Host.DisplayName)
	if room.Host.ID == viewer.ID {
		fmt.Print(" (you)")
	}
	if room.Guest != nil {
		fmt.Printf("  Guest: %s", room.Guest.DisplayName)
		if room.Guest.ID == viewer.ID {
			fmt.Print(" (you)")
		}
	} else {
		fmt.Print("  Waiting for an opponent…")
	}
	fmt.Println()
}

// runRound blocks until the round finishes, returning the final room
// snapshot or nil.
func runRound(ctx context.Context, channel *realtime.Channel, client *api.Client,
	started *battle.Room, viewer battle.User, lines <-chan string, logger *zap.Logger) *battle.Room {

	events, sub := channel.Subscribe(32)
	rc := round.New(ctx, round.Config{
		Room:    started,
		Viewer:  viewer,
		Answers: client,
		Events:  events,
		Detach:  sub.Close,
		Logger:  logger,
	})

	myRole := started.RoleOf(viewer)
	if myRole == "" {
		myRole = battle.RoleHost
	}
	oppRole := battle.RoleGuest
	if myRole == battle.RoleGuest {
		oppRole = battle.RoleHost
	}
	oppName := "them"
	if opp := started.Opponent(viewer); opp != nil {
		oppName = opp.DisplayName
	}

	lastIndex := -1
	var options []string
	updates := rc.Updates()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			switch snap.Phase {
			case round.PhasePreparing:
				fmt.Printf("\rMemorize the words… %ds ", snap.Remaining)

			case round.PhasePlaying:
				if snap.QuestionIndex != lastIndex {
					lastIndex = snap.QuestionIndex
					options = snap.Question.Options
					renderQuestion(snap)
				}
				renderTick(snap, myRole, oppRole, oppName)

			case round.PhaseFinished:
				fmt.Println("\nRound over.")
				return snap.Room

			case round.PhaseAborted:
				fmt.Println("\n" + snap.Notice)
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
				rc.Select(options[n-1])
			}
		}
	}
}

func renderQuestion(snap round.Snapshot) {
	q := snap.Question
	fmt.Printf("\n\nQ%d. %s\n", q.Index+1, q.Word)
	for i, opt := range q.Options {
		fmt.Printf("  %d) %s\n", i+1, opt)
	}
}

func renderTick(snap round.Snapshot, myRole, oppRole battle.Role, oppName string) {
	status := ""
	switch {
	case snap.Hint == round.HintCorrect:
		status = "✓"
	case snap.Hint == round.HintWrong:
		status = "✗"
	case snap.Resolved:
		status = "time's up"
	}
	opp := ""
	if snap.OpponentAnswered {
		opp = " · opponent answered"
	}
	fmt.Printf("\r%2ds  you %d : %d %s %s%s ",
		snap.Remaining, snap.Scores[myRole], snap.Scores[oppRole], oppName, status, opp)
}

func printResult(final *battle.Room, viewer battle.User) {
	res := battle.Summarize(final, viewer)
	fmt.Println()
	switch res.Outcome {
	case battle.OutcomeWin:
		fmt.Println("You won! 🎉")
	case battle.OutcomeLoss:
		fmt.Println("You lost.")
	default:
		fmt.Println("It's a draw.")
	}
	fmt.Printf("Score %d : %d · accuracy %d%% (%d/%d)\n",
		res.MyScore, res.OpponentScore, res.AccuracyPct, res.Correct, res.Total)
}
