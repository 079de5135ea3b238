package entropy

import (
	"context"
	"io"
	"sync"
	"time"

	"execcore/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/crypto/sha3"
)

// Config controls feeding and whitening of the pool.
type Config struct {
	FeedInterval   time.Duration `yaml:"feedInterval" json:"feedInterval" validate:"gt=0"`
	ChunkSize      int           `yaml:"chunkSize" json:"chunkSize" validate:"gt=0"`
	WhitenInterval time.Duration `yaml:"whitenInterval" json:"whitenInterval" validate:"gt=0"`
	MinThreshold   int           `yaml:"minThreshold" json:"minThreshold" validate:"gt=0"`
	WhitenSize     int           `yaml:"whitenSize" json:"whitenSize" validate:"gtefield=MinThreshold"`
	MaxSize        int           `yaml:"maxSize" json:"maxSize" validate:"gtefield=WhitenSize"`
	DrawWait       time.Duration `yaml:"drawWait" json:"drawWait" validate:"gte=0"`
	// Device is the hardware RNG path. Empty means no hardware source is available.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig feeds 2x64 bytes every 10ms and whitens every 5 minutes.
func DefaultConfig() Config {
	return Config{
		FeedInterval:   10 * time.Millisecond,
		ChunkSize:      64,
		WhitenInterval: 5 * time.Minute,
		MinThreshold:   64,
		WhitenSize:     128,
		MaxSize:        1 << 20,
		DrawWait:       50 * time.Millisecond,
	}
}

// Validate ensures the whitening pass can never leave the pool under its threshold.
func (c Config) Validate() error {
	switch {
	case c.FeedInterval <= 0:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy feedInterval must be > 0")
	case c.ChunkSize <= 0:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy chunkSize must be > 0")
	case c.WhitenInterval <= 0:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy whitenInterval must be > 0")
	case c.MinThreshold <= 0:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy minThreshold must be > 0")
	case c.WhitenSize < c.MinThreshold:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy whitenSize must be >= minThreshold")
	case c.MaxSize < c.WhitenSize:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy maxSize must be >= whitenSize")
	case c.DrawWait < 0:
		return errors.Wrap(exception.ErrInvalidConfig, "entropy drawWait must be >= 0")
	}
	return nil
}

// Pool is a continuously replenished buffer of random bytes.
// Feed is the only writer of pool content; Draw removes the bytes it hands out.
type Pool struct {
	cfg      Config
	hardware Source
	crypto   Source
	now      func() time.Time

	mu          sync.Mutex
	buf         []byte
	lastRefresh time.Time
	whitened    uint64
}

// NewPool creates an empty pool. Draw fails until Feed has filled MinThreshold bytes.
func NewPool(cfg Config, hardware, crypto Source) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hardware == nil || crypto == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "entropy source")
	}
	p := &Pool{
		cfg:      cfg,
		hardware: hardware,
		crypto:   crypto,
		now:      time.Now,
		buf:      make([]byte, 0, cfg.MaxSize),
	}
	p.lastRefresh = p.now()
	return p, nil
}

// Feed appends fresh chunks from both sources until ctx is done.
func (p *Pool) Feed(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FeedInterval)
	defer ticker.Stop()

	logs.Infof("entropy feed started, hardware: %s, crypto: %s", p.hardware.Name(), p.crypto.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.step(p.now()); err != nil {
				logs.Errorf("entropy feed cycle skipped, err: %+v", err)
			}
		}
	}
}

// step runs a single feed cycle at the given time.
func (p *Pool) step(now time.Time) error {
	n := p.cfg.ChunkSize
	chunk := make([]byte, 2*n)
	if _, err := io.ReadFull(p.hardware, chunk[:n]); err != nil {
		return errors.Wrap(err, "read hardware source").With("source", p.hardware.Name())
	}
	if _, err := io.ReadFull(p.crypto, chunk[n:]); err != nil {
		return errors.Wrap(err, "read crypto source").With("source", p.crypto.Name())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, chunk...)
	due := now.Sub(p.lastRefresh) > p.cfg.WhitenInterval || len(p.buf) >= p.cfg.MaxSize
	if due && len(p.buf) >= p.cfg.WhitenSize {
		p.buf = append(p.buf[:0], Whiten(p.buf, p.cfg.WhitenSize)...)
		p.lastRefresh = now
		p.whitened++
	}
	return nil
}

// Whiten returns a size-byte SHAKE-256 digest of prior.
func Whiten(prior []byte, size int) []byte {
	out := make([]byte, size)
	sha3.ShakeSum256(out, prior)
	return out
}

// Draw removes and returns n bytes. The pool keeps at least MinThreshold bytes after
// the draw; Draw waits at most DrawWait for that and fails with ErrInsufficientEntropy after.
func (p *Pool) Draw(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "draw size: %d", n)
	}
	if out, ok := p.take(n); ok {
		return out, nil
	}
	if p.cfg.DrawWait <= 0 {
		return nil, p.insufficient(n)
	}

	deadline := time.NewTimer(p.cfg.DrawWait)
	defer deadline.Stop()
	poll := time.NewTicker(p.cfg.FeedInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, p.insufficient(n)
		case <-poll.C:
			if out, ok := p.take(n); ok {
				return out, nil
			}
		}
	}
}

func (p *Pool) take(n int) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf)-n < p.cfg.MinThreshold {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	p.buf = append(p.buf[:0], p.buf[n:]...)
	return out, true
}

func (p *Pool) insufficient(n int) error {
	return errors.Wrapf(exception.ErrInsufficientEntropy, "draw %d bytes, available: %d, threshold: %d",
		n, p.Len(), p.cfg.MinThreshold)
}

// Len returns the number of buffered bytes.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Ready reports whether the pool has reached its minimum threshold.
func (p *Pool) Ready() bool {
	return p.Len() >= p.cfg.MinThreshold
}

// LastRefresh returns the time of the last whitening pass.
func (p *Pool) LastRefresh() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRefresh
}

// Reader adapts Draw to io.Reader.
func (p *Pool) Reader(ctx context.Context) io.Reader {
	return poolReader{ctx: ctx, p: p}
}

type poolReader struct {
	ctx context.Context
	p   *Pool
}

func (r poolReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	out, err := r.p.Draw(r.ctx, len(b))
	if err != nil {
		return 0, err
	}
	return copy(b, out), nil
}

// UUID returns a version 4 UUID built from pool bytes.
func (p *Pool) UUID(ctx context.Context) (uuid.UUID, error) {
	return uuid.NewRandomFromReader(p.Reader(ctx))
}
