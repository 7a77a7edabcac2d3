package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveDeliversPayload(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("abc", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Resolve("abc", json.RawMessage(`{"ok":true}`)))

	payload, err := r.Await(context.Background(), call)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("dup", time.Second)
	require.NoError(t, err)

	_, err = r.Register("dup", time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UnknownIDIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Resolve("missing", json.RawMessage(`{}`)))
	assert.False(t, r.Remove("missing"))
}

func TestRegistry_AwaitTimesOutAndRemovesEntry(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("slow", 30*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Await(context.Background(), call)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Equal(t, 0, r.Len())

	// A reply arriving after the deadline finds nothing to resolve.
	assert.False(t, r.Resolve("slow", json.RawMessage(`{}`)))
}

func TestRegistry_AwaitHonoursContext(t *testing.T) {
	r := NewRegistry()
	call, err := r.Register("ctx", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Await(ctx, call)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ResolveAndTimeoutRaceSettleOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := NewRegistry()
		call, err := r.Register("race", time.Millisecond)
		require.NoError(t, err)

		var resolved atomic.Bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			resolved.Store(r.Resolve("race", json.RawMessage(`{"n":1}`)))
		}()

		payload, err := r.Await(context.Background(), call)
		wg.Wait()

		if resolved.Load() {
			require.NoError(t, err, "a resolved call must not report a timeout")
			assert.JSONEq(t, `{"n":1}`, string(payload))
		} else {
			require.ErrorIs(t, err, ErrDeadlineExceeded)
		}
		assert.Equal(t, 0, r.Len())
	}
}
