package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketpipe/logger"
	"marketpipe/models"
)

func TestPoints_SendReceiveFIFO(t *testing.T) {
	q := NewPoints(4, logger.Discard())
	defer q.Close()

	ctx := context.Background()
	for _, s := range []string{"A", "B", "C"} {
		if err := q.Send(ctx, models.DataPoint{Symbol: s, Price: 1}); err != nil {
			t.Fatalf("send %s: %v", s, err)
		}
	}
	if q.Len() != 3 || q.Cap() != 4 {
		t.Fatalf("unexpected depth %d/%d", q.Len(), q.Cap())
	}
	for _, want := range []string{"A", "B", "C"} {
		p, ok := q.Receive(10 * time.Millisecond)
		if !ok || p.Symbol != want {
			t.Fatalf("expected %s, got %+v ok=%v", want, p, ok)
		}
	}
	if stats := q.GetStats(); stats.Sent != 3 || stats.Received != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPoints_ReceiveTimesOut(t *testing.T) {
	q := NewPoints(1, logger.Discard())
	start := time.Now()
	if _, ok := q.Receive(20 * time.Millisecond); ok {
		t.Fatal("expected timeout on empty queue")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("receive returned before the timeout")
	}
}

func TestPoints_SendBlocksWhenFull(t *testing.T) {
	q := NewPoints(1, logger.Discard())
	ctx := context.Background()
	if err := q.Send(ctx, models.DataPoint{Symbol: "A"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := make(chan error, 1)
	go func() { sent <- q.Send(ctx, models.DataPoint{Symbol: "B"}) }()

	select {
	case <-sent:
		t.Fatal("send should block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	if p, ok := q.Receive(time.Second); !ok || p.Symbol != "A" {
		t.Fatalf("unexpected receive %+v", p)
	}
	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("blocked send failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed")
	}
	if q.GetStats().Blocked != 1 {
		t.Fatalf("expected one blocked send, got %+v", q.GetStats())
	}
}

func TestPoints_SendHonoursContext(t *testing.T) {
	q := NewPoints(1, logger.Discard())
	_ = q.Send(context.Background(), models.DataPoint{Symbol: "A"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Send(ctx, models.DataPoint{Symbol: "B"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if q.GetStats().Dropped != 1 {
		t.Fatalf("expected one dropped point, got %+v", q.GetStats())
	}
}

func TestPoints_CloseWakesSendersAndKeepsBuffered(t *testing.T) {
	q := NewPoints(2, logger.Discard())
	ctx := context.Background()
	_ = q.Send(ctx, models.DataPoint{Symbol: "A"})
	_ = q.Send(ctx, models.DataPoint{Symbol: "B"})

	var wg sync.WaitGroup
	wg.Add(1)
	var blockedErr error
	go func() {
		defer wg.Done()
		blockedErr = q.Send(ctx, models.DataPoint{Symbol: "C"})
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	q.Close()
	wg.Wait()
	if !errors.Is(blockedErr, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", blockedErr)
	}
	if err := q.Send(ctx, models.DataPoint{Symbol: "D"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after close, got %v", err)
	}

	rest := q.Drain()
	if len(rest) != 2 || rest[0].Symbol != "A" || rest[1].Symbol != "B" {
		t.Fatalf("unexpected drained points %+v", rest)
	}
}

func TestPoints_NoSendLandsAfterClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		q := NewPoints(10000, logger.Discard())
		ctx := context.Background()

		var (
			wg       sync.WaitGroup
			accepted int64
			mu       sync.Mutex
		)
		start := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 500; i++ {
					if err := q.Send(ctx, models.DataPoint{Symbol: "AAPL", Price: 1}); err != nil {
						if !errors.Is(err, ErrQueueClosed) {
							t.Errorf("unexpected error %v", err)
						}
						return
					}
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}

		close(start)
		time.Sleep(time.Millisecond)
		q.Close()
		drained := len(q.Drain())
		wg.Wait()

		if late := len(q.Drain()); late != 0 {
			t.Fatalf("round %d: %d points landed after Close", round, late)
		}
		mu.Lock()
		got := accepted
		mu.Unlock()
		if int64(drained) != got {
			t.Fatalf("round %d: accepted %d sends but drained %d", round, got, drained)
		}
	}
}
