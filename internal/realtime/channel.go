// Package realtime owns the single push connection to the game server.
// One Channel is shared process-wide; screens subscribe for the events
// they care about and must close their subscription on teardown.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 2 * time.Second
)

// TokenSource yields the current session token, or "" when no user is
// logged in.
type TokenSource func() string

// Config for a Channel. Only URL and Token are required.
type Config struct {
	// URL of the websocket endpoint, e.g. ws://host/battle/socket.
	URL   string
	Token TokenSource

	// Bounded automatic reconnection with a fixed inter-attempt delay.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// PaymentHook, when set, receives payment pushes in addition to the
	// normal subscriber fan-out. This is the documented side channel
	// that mutates shared profile state; battle flows never use it.
	PaymentHook func(Payment)

	Logger *zap.Logger
}

// Channel is a persistent bidirectional connection with typed push
// decoding and token-based subscriptions. All methods are safe for
// concurrent use.
type Channel struct {
	cfg Config
	log *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	gen       int // bumped on every Connect/Close; stale read loops must not reconnect
	connected bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Subscription is a handle for exactly one subscriber. Close is
// idempotent and detaches the subscriber's channel.
type Subscription struct {
	id   int
	ch   *Channel
	once sync.Once
}

// Close removes the subscription and closes its event channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.ch.subMu.Lock()
		defer s.ch.subMu.Unlock()
		if out, ok := s.ch.subs[s.id]; ok {
			delete(s.ch.subs, s.id)
			close(out)
		}
	})
}

// New builds a Channel. It does not dial; call Connect once a session
// token exists.
func New(cfg Config) *Channel {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{
		cfg:  cfg,
		log:  log.Named("realtime"),
		subs: make(map[int]chan Event),
	}
}

// Connect dials the server with the current session token. Without a
// token it logs and returns without dialing. An existing live
// connection is closed first so there is never more than one socket.
func (c *Channel) Connect(ctx context.Context) {
	token := c.cfg.Token()
	if token == "" {
		c.log.Info("no session token, skipping realtime connect")
		return
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "reconnecting")
		c.conn = nil
		c.connected = false
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)
	if err != nil {
		c.log.Warn("realtime connect failed", zap.Error(err))
		go c.reconnect(loopCtx, gen, token)
		return
	}
	c.adopt(gen, conn)
	go c.readLoop(loopCtx, gen, conn, token)
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	return conn, err
}

// adopt installs conn as the live connection unless the generation has
// moved on, in which case the conn is discarded.
func (c *Channel) adopt(gen int, conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return false
	}
	c.conn = conn
	c.connected = true
	c.log.Info("realtime connected")
	return true
}

// Close tears the connection down. Idempotent; safe with no connection.
// Subscriptions survive and resume on the next Connect.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "bye")
		c.conn = nil
	}
	c.connected = false
}

// Connected reports whether the socket is currently live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit writes one frame to the server. While disconnected it warns and
// drops the frame; nothing is ever queued.
func (c *Channel) Emit(ctx context.Context, event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	live := c.connected
	c.mu.Unlock()
	if !live || conn == nil {
		c.log.Warn("emit while disconnected, dropping", zap.String("event", event))
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("emit marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	raw, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		c.log.Warn("emit marshal failed", zap.String("event", event), zap.Error(err))
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, raw); err != nil {
		c.log.Warn("emit write failed", zap.String("event", event), zap.Error(err))
	}
}

// Subscribe registers a new subscriber and returns its event channel.
// The caller owns the Subscription and must Close it on teardown;
// leaking it means duplicate handling on the next screen of the same
// kind. A subscriber that falls behind its buffer loses events (they
// are logged), it is never blocked on.
func (c *Channel) Subscribe(buffer int) (<-chan Event, *Subscription) {
	if buffer <= 0 {
		buffer = 16
	}
	out := make(chan Event, buffer)
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = out
	c.subMu.Unlock()
	return out, &Subscription{id: id, ch: c}
}

func (c *Channel) fanOut(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, out := range c.subs {
		select {
		case out <- ev:
		default:
			c.log.Warn("subscriber full, dropping event", zap.Int("sub", id))
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, gen int, conn *websocket.Conn, token string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen
			if !stale {
				c.connected = false
				c.conn = nil
			}
			c.mu.Unlock()

			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			if stale || ctx.Err() != nil {
				return
			}
			c.log.Warn("realtime read failed", zap.Error(err))
			c.reconnect(ctx, gen, token)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("bad realtime frame", zap.Error(err))
			continue
		}
		ev, err := decodeEvent(f)
		if err != nil {
			c.log.Warn("undecodable realtime event", zap.String("event", f.Event), zap.Error(err))
			continue
		}
		if ev == nil {
			c.log.Debug("ignoring unknown realtime event", zap.String("event", f.Event))
			continue
		}
		if p, ok := ev.(Payment); ok && c.cfg.PaymentHook != nil {
			c.cfg.PaymentHook(p)
		}
		c.fanOut(ev)
	}
}

// reconnect retries the dial a bounded number of times with a fixed
// delay. On success the read loop resumes under the same generation;
// on exhaustion the channel simply stays disconnected.
func (c *Channel) reconnect(ctx context.Context, gen int, token string) {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		conn, err := c.dial(ctx, token)
		if err != nil {
			c.log.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max", c.cfg.ReconnectAttempts),
				zap.Error(err))
			continue
		}
		if !c.adopt(gen, conn) {
			return
		}
		go c.readLoop(ctx, gen, conn, token)
		return
	}
	c.log.Warn("reconnect attempts exhausted, staying disconnected")
}
