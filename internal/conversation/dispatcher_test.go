package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	mu    sync.Mutex
	calls int32
	fn    func(req MessageRequest) (*Response, error)
}

func (p *stubProcessor) ProcessMessage(_ context.Context, req MessageRequest) (*Response, error) {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &Response{SessionID: "s1", Reply: "ok", Intent: "GREETING"}, nil
}

func TestDispatcherRoundTrip(t *testing.T) {
	proc := &stubProcessor{fn: func(req MessageRequest) (*Response, error) {
		return &Response{SessionID: "s1", Reply: "echo: " + req.Text}, nil
	}}
	d := NewDispatcher(proc, NewMemoryQueue(8), nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
	}()

	resp, err := d.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, "echo: hello", resp.Reply)
	require.Equal(t, int32(1), atomic.LoadInt32(&proc.calls))
}

func TestDispatcherConcurrentCallers(t *testing.T) {
	proc := &stubProcessor{fn: func(req MessageRequest) (*Response, error) {
		return &Response{SessionID: req.UserID, Reply: req.Text}, nil
	}}
	d := NewDispatcher(proc, NewMemoryQueue(32), nil, WithWorkerCount(3), WithReceiveWaitSeconds(1))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
	}()

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.ProcessMessage(context.Background(), MessageRequest{UserID: "u", Text: "m"})
			if err != nil {
				errs <- err
				return
			}
			if resp.Reply != "m" {
				errs <- context.DeadlineExceeded
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("caller failed: %v", err)
	}
	require.Equal(t, int32(callers), atomic.LoadInt32(&proc.calls))
}

func TestDispatcherCallerContextCancelled(t *testing.T) {
	block := make(chan struct{})
	proc := &stubProcessor{fn: func(_ MessageRequest) (*Response, error) {
		<-block
		return &Response{}, nil
	}}
	d := NewDispatcher(proc, NewMemoryQueue(8), nil, WithWorkerCount(1), WithReceiveWaitSeconds(1))
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, d.Shutdown(ctx))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := d.ProcessMessage(ctx, MessageRequest{UserID: "u1", Text: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueReceiveTimeout(t *testing.T) {
	q := NewMemoryQueue(1)

	start := time.Now()
	messages, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Empty(t, messages)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMemoryQueueBatchesAvailableMessages(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Send(ctx, "payload"))
	}

	messages, err := q.Receive(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, messages, 3)
}
