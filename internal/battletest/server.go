// Package battletest runs an in-process game server implementing the
// battle REST surface and push socket. Tests (and local development)
// point the real client packages at it and script pushes explicitly;
// it never advances a round on its own beyond what a handler implies.
package battletest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/battle"
	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Server is the fake game server. Zero scripting gives a working happy
// path: create, join, start, answer.
type Server struct {
	log  *zap.Logger
	http *httptest.Server

	mu           sync.Mutex
	users        map[string]battle.User // token -> user
	rooms        map[string]*battle.Room
	settings     battle.Settings
	questions    []battle.Question // installed into a room on start
	calls        map[string]int
	emitted      []realtime.Frame // frames received from clients
	conns        map[*conn]bool
	socketTokens []string // bearer token of every socket dial, in order
	nextCode     int
}

type conn struct {
	ws  *websocket.Conn
	out chan []byte
}

// New starts the server. Callers must Close it.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		log:      logger.Named("battletest"),
		users:    make(map[string]battle.User),
		rooms:    make(map[string]*battle.Room),
		settings: battle.Settings{PrepareTimeSeconds: 10, TimePerQuestionSeconds: 15},
		calls:    make(map[string]int),
		conns:    make(map[*conn]bool),
	}

	r := chi.NewRouter()
	r.Post("/battle/room/create", s.handleCreate)
	r.Post("/battle/room/join", s.handleJoin)
	r.Post("/battle/room/leave", s.handleLeave)
	r.Get("/battle/room/{code}", s.handleGet)
	r.Post("/battle/game/start", s.handleStart)
	r.Post("/battle/game/answer", s.handleAnswer)
	r.Get("/socket", s.handleSocket)

	s.http = httptest.NewServer(r)
	return s
}

// Close shuts the HTTP server down and drops all sockets.
func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		close(c.out)
		delete(s.conns, c)
	}
	s.mu.Unlock()
	s.http.Close()
}

// URL is the REST base URL.
func (s *Server) URL() string { return s.http.URL }

// SocketURL is the websocket endpoint.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/socket"
}

// RegisterUser maps a bearer token to a user identity.
func (s *Server) RegisterUser(token string, u battle.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
}

// SetSettings scripts the countdown settings of rooms created after
// the call.
func (s *Server) SetSettings(settings battle.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// SetQuestions scripts the question sequence installed when a game
// starts.
func (s *Server) SetQuestions(qs []battle.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = qs
}

// SeedRoom installs a room directly, bypassing the create handler.
func (s *Server) SeedRoom(room *battle.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.Code] = room
}

// Room returns a copy of the stored room, or nil.
func (s *Server) Room(code string) *battle.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[code]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// CallCount reports how many requests hit the given path (joins and
// answers count by fixed path, room GETs by "/battle/room/get").
func (s *Server) CallCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Emitted returns the frames clients wrote to the socket.
func (s *Server) Emitted() []realtime.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.Frame(nil), s.emitted...)
}

// Push broadcasts one event frame to every connected socket.
func (s *Server) Push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("push marshal", zap.Error(err))
		return
	}
	raw, err := json.Marshal(realtime.Frame{Event: event, Data: data})
	if err != nil {
		s.log.Error("push marshal", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		select {
		case c.out <- raw:
		default:
			// slow socket, drop it (same policy as the real hub)
			close(c.out)
			delete(s.conns, c)
		}
	}
}

// PushRoom is shorthand for the {room} payload events.
func (s *Server) PushRoom(event string, room *battle.Room) {
	s.Push(event, map[string]any{"room": room})
}

// DropSockets force-closes every push socket from the server side, as
// if the connection had failed, so client redial behavior can be
// exercised.
func (s *Server) DropSockets() {
	s.mu.Lock()
	dropped := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		dropped = append(dropped, c)
		close(c.out)
		delete(s.conns, c)
	}
	s.mu.Unlock()

	for _, c := range dropped {
		c.ws.Close(websocket.StatusInternalError, "dropped")
	}
}

// SocketTokens lists the bearer token each socket dial presented, in
// connection order.
func (s *Server) SocketTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.socketTokens...)
}

func (s *Server) caller(r *http.Request) (battle.User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[token]
	return u, ok
}

func (s *Server) count(path string) {
	s.mu.Lock()
	s.calls[path]++
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func (s *Server) generateCode() string {
	// deterministic, collision-free within one server
	s.nextCode++
	n := s.nextCode
	code := make([]byte, 6)
	for i := range code {
		code[i] = codeCharset[n%len(codeCharset)]
		n /= len(codeCharset)
	}
	return string(code)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/room/create")
	host, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}

	s.mu.Lock()
	room := &battle.Room{
		Code:     s.generateCode(),
		Host:     host,
		Settings: s.settings,
		Scores:   battle.ScoreBoard{battle.RoleHost: 0, battle.RoleGuest: 0},
	}
	s.rooms[room.Code] = room
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/room/join")
	guest, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[battle.NormalizeCode(req.RoomCode)]
	switch {
	case !ok:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room_not_found", "Room not found")
		return
	case room.Host.ID == guest.ID || (room.Guest != nil && room.Guest.ID == guest.ID):
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "already_in_room", "You are already in this room")
		return
	case room.Guest != nil:
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "room_full", "Room is full")
		return
	}
	room.Guest = &guest
	cp := *room
	s.mu.Unlock()

	s.PushRoom(realtime.EventGuestJoined, &cp)
	writeJSON(w, http.StatusOK, map[string]any{"room": &cp})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/room/leave")
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[req.RoomCode]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room_not_found", "Room not found")
		return
	}
	isHost := room.Host.ID == caller.ID
	if isHost {
		delete(s.rooms, room.Code)
	} else {
		room.Guest = nil
	}
	s.mu.Unlock()

	if isHost {
		s.Push(realtime.EventRoomClosed, map[string]string{"message": "The host closed the room"})
	} else {
		s.Push(realtime.EventGuestLeft, nil)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/room/get")
	code := chi.URLParam(r, "code")

	s.mu.Lock()
	room, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room_not_found", "Room not found")
		return
	}
	cp := *room
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"room": &cp})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/game/start")
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	var req struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[req.RoomCode]
	switch {
	case !ok:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room_not_found", "Room not found")
		return
	case room.Host.ID != caller.ID:
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "not_host", "Only the host can start")
		return
	case room.Guest == nil:
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "no_guest", "Waiting for an opponent")
		return
	}
	room.Questions = append([]battle.Question(nil), s.questions...)
	cp := *room
	s.mu.Unlock()

	s.PushRoom(realtime.EventGameStarted, &cp)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	s.count("/battle/game/answer")
	caller, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing token")
		return
	}
	var req struct {
		RoomCode  string `json:"roomCode"`
		VocabID   string `json:"vocabId"`
		Answer    string `json:"answer"`
		TimeSpent int    `json:"timeSpent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[req.RoomCode]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room_not_found", "Room not found")
		return
	}
	correct := false
	for _, q := range room.Questions {
		if q.VocabID == req.VocabID {
			correct = req.Answer != "" && req.Answer == q.Meaning
			break
		}
	}
	room.Answers = append(room.Answers, battle.Answer{
		UserID:      caller.ID,
		VocabID:     req.VocabID,
		ChosenText:  req.Answer,
		TimeSpentMs: req.TimeSpent,
		IsCorrect:   correct,
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	c := &conn{ws: ws, out: make(chan []byte, 32)}
	s.mu.Lock()
	s.conns[c] = true
	s.socketTokens = append(s.socketTokens, token)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conns[c] {
			close(c.out)
			delete(s.conns, c)
		}
		s.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "bye")
	}()

	// writer
	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for raw := range c.out {
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			_ = ws.Write(ctx, websocket.MessageText, raw)
			cancel()
		}
	}()

	// reader: record client emits until the socket drops
	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		s.mu.Lock()
		s.emitted = append(s.emitted, f)
		s.mu.Unlock()
	}
}
