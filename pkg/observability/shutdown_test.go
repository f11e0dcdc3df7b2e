package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(logrus.New(), time.Second)

	var order []string
	sm.Register("first", func(ctx context.Context) error {
		order = append(order, "first")
		return nil
	})
	sm.Register("second", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"second", "first"}, order)

	// functions run once
	require.NoError(t, sm.Shutdown())
	assert.Len(t, order, 2)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, 0)
	assert.Equal(t, 30*time.Second, sm.timeout)

	boom := errors.New("boom")
	called := false
	sm.Register("ok", func(ctx context.Context) error {
		called = true
		return nil
	})
	sm.Register("failing", func(ctx context.Context) error { return boom })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)
}

func TestShutdownManager_WaitOnContext(t *testing.T) {
	sm := NewShutdownManager(logrus.New(), time.Second)
	called := false
	sm.Register("cleanup", func(ctx context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.Wait(ctx))
	assert.True(t, called)
}
