// Package profile holds the shared user profile state that payment
// pushes mutate. This is the realtime channel's documented side
// channel; nothing in the battle flow reads it.
package profile

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hoangptkd/english-vocab1-sub000/internal/realtime"
)

// Profile is the process-wide profile mirror.
type Profile struct {
	log *zap.Logger

	mu     sync.Mutex
	points int
}

func New(logger *zap.Logger) *Profile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profile{log: logger.Named("profile")}
}

// ApplyPayment is wired as the channel's PaymentHook.
func (p *Profile) ApplyPayment(ev realtime.Payment) {
	if !ev.Succeeded {
		p.log.Warn("payment failed", zap.String("message", ev.Message))
		return
	}
	p.mu.Lock()
	p.points += ev.Points
	total := p.points
	p.mu.Unlock()
	p.log.Info("points credited", zap.Int("added", ev.Points), zap.Int("total", total))
}

// Points reports the mirrored balance.
func (p *Profile) Points() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.points
}
