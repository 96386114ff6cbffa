package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"medipos/m/internal/blob/core"
)

var ErrCircuitOpen = errors.New("blobstore: circuit breaker open")

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // window for clearing counts, 0 keeps them
	Timeout          time.Duration // open to half-open delay
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards a remote Store. Not-found and already-exists answers count
// as successes; only transport and server failures trip it.
type Breaker struct {
	next core.Store
	cb   *gobreaker.CircuitBreaker
	log  zerolog.Logger
}

func NewBreaker(next core.Store, cfg BreakerConfig, log zerolog.Logger) *Breaker {
	b := &Breaker{next: next, log: log.With().Str("component", "blob-breaker").Logger()}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrExists)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return b
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Driver() core.Driver { return b.next.Driver() }

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return res, err
}

func (b *Breaker) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	res, err := b.execute(func() (any, error) { return b.next.Put(ctx, key, r, opts) })
	if err != nil {
		return core.Info{}, err
	}
	return res.(core.Info), nil
}

type getResult struct {
	info core.Info
	body io.ReadCloser
}

func (b *Breaker) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	res, err := b.execute(func() (any, error) {
		info, body, err := b.next.Get(ctx, key)
		return getResult{info: info, body: body}, err
	})
	if err != nil {
		return core.Info{}, nil, err
	}
	gr := res.(getResult)
	return gr.info, gr.body, nil
}

func (b *Breaker) Head(ctx context.Context, key string) (core.Info, error) {
	res, err := b.execute(func() (any, error) { return b.next.Head(ctx, key) })
	if err != nil {
		return core.Info{}, err
	}
	return res.(core.Info), nil
}

func (b *Breaker) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.execute(func() (any, error) { return b.next.Delete(ctx, key) })
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *Breaker) List(ctx context.Context, prefix string) ([]core.Info, error) {
	res, err := b.execute(func() (any, error) { return b.next.List(ctx, prefix) })
	if err != nil {
		return nil, err
	}
	return res.([]core.Info), nil
}
