package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:  4,
		QueueSize:   16,
		IdleTimeout: time.Second,
	})
	defer p.Close()

	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(8), ran.Load())

	stats := p.Stats()
	assert.Equal(t, int64(8), stats.Submitted)
	assert.Equal(t, int64(8), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestGoroutinePool_TaskError(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:  2,
		QueueSize:   4,
		IdleTimeout: time.Second,
	})
	defer p.Close()

	wantErr := errors.New("process failed")
	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestGoroutinePool_PanicRecovery(t *testing.T) {
	var recovered atomic.Bool
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:  2,
		QueueSize:   4,
		IdleTimeout: time.Second,
		PanicHandler: func(v any) {
			recovered.Store(true)
		},
	})
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	assert.Error(t, err)
	assert.True(t, recovered.Load())
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig())
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.Equal(t, ErrPoolClosed, err)
}

func TestObjectPool_HitRate(t *testing.T) {
	p := NewPool(
		func() []string { return make([]string, 0, 8) },
		func(s *[]string) { *s = (*s)[:0] },
	)

	first := p.Get()
	first = append(first, "normalize")
	p.Put(first)

	second := p.Get()
	assert.Empty(t, second)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.GreaterOrEqual(t, stats.HitRate(), 0.0)
}

func TestByteBufferPool_Reset(t *testing.T) {
	buf := ByteBufferPool.Get()
	buf.WriteString("run_spec")
	ByteBufferPool.Put(buf)

	again := ByteBufferPool.Get()
	defer ByteBufferPool.Put(again)
	assert.Equal(t, 0, again.Len())
}

func TestCopyBufferPool_Size(t *testing.T) {
	buf := CopyBufferPool.Get()
	defer CopyBufferPool.Put(buf)
	assert.Equal(t, 32*1024, len(buf))
}
