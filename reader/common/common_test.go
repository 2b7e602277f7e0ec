package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"marketpipe/logger"
	"marketpipe/models"
)

func TestLexiconScore(t *testing.T) {
	cases := []struct {
		lex  Lexicon
		text string
		want float64
	}{
		{NewsLexicon, "Strong growth and record profit", 1},
		{NewsLexicon, "Shares drop after poor guidance", -1},
		{NewsLexicon, "Great quarter despite a loss", 0},
		{NewsLexicon, "Company holds annual meeting", 0},
		{SocialLexicon, "$TSLA to the MOON, buying calls", 1},
		{SocialLexicon, "bearish, dump it before the crash. still long", -0.5},
	}
	for _, c := range cases {
		if got := c.lex.Score(c.text); got != c.want {
			t.Errorf("Score(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestParseFloat(t *testing.T) {
	f, err := ParseFloat(" 123.4500 ")
	if err != nil || f != 123.45 {
		t.Fatalf("expected 123.45, got %v (%v)", f, err)
	}
	if _, err := ParseFloat("."); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue for '.', got %v", err)
	}
	if _, err := ParseFloat("abc"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseIntTruncates(t *testing.T) {
	n, err := ParseInt("1534.987")
	if err != nil || n != 1534 {
		t.Fatalf("expected 1534, got %d (%v)", n, err)
	}
}

func TestToFloat(t *testing.T) {
	if f, err := ToFloat(2.5); err != nil || f != 2.5 {
		t.Fatalf("float64: %v %v", f, err)
	}
	if f, err := ToFloat("7.25"); err != nil || f != 7.25 {
		t.Fatalf("string: %v %v", f, err)
	}
	if _, err := ToFloat(nil); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue for nil, got %v", err)
	}
	if _, err := ToFloat(true); err == nil {
		t.Fatal("expected error for bool")
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second)
	var out struct {
		Value int `json:"value"`
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	if err := GetJSON(context.Background(), client, srv.URL, header, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("expected 42, got %d", out.Value)
	}

	err := GetJSON(context.Background(), client, srv.URL, nil, &out)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

func TestPollVisitsTargetsEachRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan error, 1)
	go func() {
		done <- Poll(ctx, PollConfig{Targets: []string{"A", "B"}, Interval: 10 * time.Millisecond},
			logger.Discard().WithComponent("test"), func(_ context.Context, target string) error {
				mu.Lock()
				seen[target]++
				rounds := seen["B"]
				mu.Unlock()
				if target == "A" {
					return errors.New("boom")
				}
				if rounds >= 3 {
					cancel()
				}
				return nil
			})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen["A"] < 3 || seen["B"] < 3 {
		t.Fatalf("expected at least 3 rounds for each target, got %v", seen)
	}
}

func TestNewLimiterSpacesCalls(t *testing.T) {
	lim := NewLimiter(20 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := lim.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("expected calls spaced by the limiter, took %v", elapsed)
	}
}

type sliceIngester struct {
	mu     sync.Mutex
	points []models.DataPoint
	reject bool
}

func (s *sliceIngester) Ingest(_ context.Context, p models.DataPoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.points = append(s.points, p)
	return true
}

func TestEmitCountsAccepted(t *testing.T) {
	in := &sliceIngester{}
	points := []models.DataPoint{{Symbol: "A"}, {Symbol: "B"}}
	if n := Emit(context.Background(), in, "test", points); n != 2 {
		t.Fatalf("expected 2 accepted, got %d", n)
	}
	in.reject = true
	if n := Emit(context.Background(), in, "test", points); n != 0 {
		t.Fatalf("expected 0 accepted, got %d", n)
	}
}
