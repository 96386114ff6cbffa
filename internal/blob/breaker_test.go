package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/blob/core"
	"medipos/m/internal/blob/memory"
)

// flakyStore fails every Head with err and counts calls.
type flakyStore struct {
	*memory.Store
	err   error
	calls int
}

func (f *flakyStore) Head(ctx context.Context, key string) (core.Info, error) {
	f.calls++
	return core.Info{}, f.err
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyStore{Store: memory.New(), err: errors.New("connection reset")}
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 3
	b := NewBreaker(next, cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Head(ctx, "k")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Head(ctx, "k")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, 3, next.calls)
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	next := &flakyStore{Store: memory.New(), err: core.ErrNotFound}
	cfg := DefaultBreakerConfig("test")
	cfg.FailureThreshold = 2
	b := NewBreaker(next, cfg, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := b.Head(context.Background(), "missing")
		assert.True(t, errors.Is(err, core.ErrNotFound))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(memory.New(), DefaultBreakerConfig("test"), zerolog.Nop())
	ctx := context.Background()

	info, err := b.Put(ctx, "a/b.txt", strings.NewReader("hello"), core.PutOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size)

	_, body, err := b.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "hello", string(data))

	list, err := b.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	ok, err := b.Delete(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, core.DriverMemory, b.Driver())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{Driver: "fs", Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, st.Driver())

	st, err = Open(ctx, Config{Driver: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, core.DriverMemory, st.Driver())

	_, err = Open(ctx, Config{Driver: "s3"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: "ftp"}, zerolog.Nop())
	assert.Error(t, err)
}
