package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsRegisteredFuncs(t *testing.T) {
	log := NewLogger(ErrorLevel, nil)
	sm := NewShutdownManager(log, nil, 2*time.Second)

	var ran int32
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown() }()

	// give WaitForShutdown time to install its signal handler
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&ran))
}

func TestShutdownPropagatesFuncError(t *testing.T) {
	log := NewLogger(ErrorLevel, nil)
	sm := NewShutdownManager(log, nil, 2*time.Second)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return errors.New("pool close failed")
	})

	errCh := make(chan error, 1)
	go func() { errCh <- sm.WaitForShutdown() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-errCh:
		assert.EqualError(t, err, "pool close failed")
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
