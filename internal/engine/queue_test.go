package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/convoke-ai/convoke/internal/conversation"
	"github.com/convoke-ai/convoke/pkg/types"
)

func TestQueue_FIFOWithinConversation(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	q := newQueue(func(r *request) (*types.TurnOutcome, error) {
		mu.Lock()
		order = append(order, r.prompt)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return &types.TurnOutcome{}, nil
	}, 8)

	conv := conversation.NewStore().Create()
	var wg sync.WaitGroup
	for _, p := range []string{"first", "second", "third"} {
		wg.Add(1)
		err := q.enqueue(&request{
			ctx:      context.Background(),
			conv:     conv,
			prompt:   p,
			rounds:   1,
			callback: func(*types.TurnOutcome, error) { wg.Done() },
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	wg.Wait()
	q.close()

	want := []string{"first", "second", "third"}
	mu.Lock()
	defer mu.Unlock()
	for i, p := range want {
		if order[i] != p {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueue_ConcurrencyCap(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	q := newQueue(func(*request) (*types.TurnOutcome, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &types.TurnOutcome{}, nil
	}, 2)

	store := conversation.NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		err := q.enqueue(&request{
			ctx:      context.Background(),
			conv:     store.Create(),
			prompt:   "go",
			rounds:   1,
			callback: func(*types.TurnOutcome, error) { wg.Done() },
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	wg.Wait()
	q.close()

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > 2 {
		t.Errorf("max concurrent turns = %d, want at most 2", maxSeen)
	}
}

func TestQueue_CancelledRequestFailsWithoutRunning(t *testing.T) {
	gate := make(chan struct{})
	q := newQueue(func(r *request) (*types.TurnOutcome, error) {
		if r.prompt == "blocker" {
			<-gate
		}
		return &types.TurnOutcome{}, nil
	}, 1)

	store := conversation.NewStore()
	blockerDone := make(chan struct{})
	if err := q.enqueue(&request{
		ctx:      context.Background(),
		conv:     store.Create(),
		prompt:   "blocker",
		rounds:   1,
		callback: func(*types.TurnOutcome, error) { close(blockerDone) },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	errCh := make(chan error, 1)
	if err := q.enqueue(&request{
		ctx:    ctx,
		conv:   store.Create(),
		prompt: "cancelled",
		rounds: 1,
		callback: func(_ *types.TurnOutcome, err error) {
			errCh <- err
		},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("callback error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never finished")
	}

	close(gate)
	<-blockerDone
	q.close()
}

func TestQueue_CloseRejectsAndDrains(t *testing.T) {
	done := make(chan struct{})
	q := newQueue(func(*request) (*types.TurnOutcome, error) {
		time.Sleep(10 * time.Millisecond)
		return &types.TurnOutcome{}, nil
	}, 4)

	conv := conversation.NewStore().Create()
	if err := q.enqueue(&request{
		ctx:      context.Background(),
		conv:     conv,
		prompt:   "last",
		rounds:   1,
		callback: func(*types.TurnOutcome, error) { close(done) },
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q.close() // waits for the in-flight request

	select {
	case <-done:
	default:
		t.Error("close returned before the queued request finished")
	}

	if err := q.enqueue(&request{ctx: context.Background(), conv: conv, rounds: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close error = %v, want ErrClosed", err)
	}

	if q.pendingLen(conv.ID()) != 0 {
		t.Errorf("pendingLen = %d after close, want 0", q.pendingLen(conv.ID()))
	}
}
