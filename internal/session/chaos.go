package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"execcore/pkg/exception"

	"github.com/yanun0323/errors"
)

// ChaosConfig controls fault injection on inbound frames.
type ChaosConfig struct {
	Seed          int64   `yaml:"seed" json:"seed"`
	DropRate      float64 `yaml:"dropRate" json:"dropRate" validate:"gte=0,lte=1"`
	DuplicateRate float64 `yaml:"duplicateRate" json:"duplicateRate" validate:"gte=0,lte=1"`
	ReorderWindow int     `yaml:"reorderWindow" json:"reorderWindow" validate:"gte=0"`
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "reorderWindow must be >= 0")
	}
	return nil
}

// Enabled reports whether any fault is configured.
func (c ChaosConfig) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1
}

// ChaosTransport drops, duplicates and reorders frames read from the wrapped transport.
// Writes pass through untouched.
type ChaosTransport struct {
	Transport

	cfg     ChaosConfig
	mu      sync.Mutex
	rng     *rand.Rand
	pending [][]byte
	ready   [][]byte
}

// NewChaosTransport wraps t. A zero seed picks one from the clock.
func NewChaosTransport(t Transport, cfg ChaosConfig) (*ChaosTransport, error) {
	if t == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "chaos transport")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &ChaosTransport{
		Transport: t,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Read returns the next frame after fault injection.
func (c *ChaosTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		if frame, ok := c.popReady(); ok {
			return frame, nil
		}
		frame, err := c.Transport.Read(ctx)
		if err != nil {
			if c.flush() {
				continue
			}
			return nil, err
		}
		c.process(frame)
	}
}

func (c *ChaosTransport) popReady() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ready) == 0 {
		return nil, false
	}
	frame := c.ready[0]
	c.ready = c.ready[1:]
	return frame, true
}

func (c *ChaosTransport) process(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate {
		return
	}
	if c.cfg.ReorderWindow <= 1 {
		c.emitLocked(frame)
		return
	}
	c.pending = append(c.pending, frame)
	if len(c.pending) < c.cfg.ReorderWindow {
		return
	}
	idx := c.rng.Intn(len(c.pending))
	out := c.pending[idx]
	c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	c.emitLocked(out)
}

// flush releases buffered frames once the wrapped transport stops producing.
func (c *ChaosTransport) flush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return false
	}
	for len(c.pending) > 0 {
		idx := c.rng.Intn(len(c.pending))
		frame := c.pending[idx]
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
		c.emitLocked(frame)
	}
	return true
}

func (c *ChaosTransport) emitLocked(frame []byte) {
	c.ready = append(c.ready, frame)
	if c.cfg.DuplicateRate > 0 && c.rng.Float64() < c.cfg.DuplicateRate {
		c.ready = append(c.ready, frame)
	}
}
