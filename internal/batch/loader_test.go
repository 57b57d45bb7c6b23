package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"stocklive/internal/model"
	"stocklive/logger"
)

func TestChunkCoversAllInputsExactlyOnce(t *testing.T) {
	cases := []struct {
		n, size, chunks int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{30, 7, 5},
	}
	for _, tc := range cases {
		codes := make([]string, tc.n)
		for i := range codes {
			codes[i] = fmt.Sprintf("%06d", i)
		}
		chunks := Chunk(codes, tc.size)
		if len(chunks) != tc.chunks {
			t.Errorf("n=%d size=%d: got %d chunks, want %d", tc.n, tc.size, len(chunks), tc.chunks)
		}
		seen := make(map[string]int)
		for _, chunk := range chunks {
			if len(chunk) > tc.size {
				t.Errorf("n=%d size=%d: oversized chunk of %d", tc.n, tc.size, len(chunk))
			}
			for _, code := range chunk {
				seen[code]++
			}
		}
		if len(seen) != tc.n {
			t.Errorf("n=%d size=%d: union has %d codes", tc.n, tc.size, len(seen))
		}
		for code, count := range seen {
			if count != 1 {
				t.Errorf("code %s appeared %d times", code, count)
			}
		}
	}
}

func TestFetchManyDropsFailuresWithoutAborting(t *testing.T) {
	failing := map[string]bool{"000002": true, "000005": true}
	fetch := func(ctx context.Context, token, code string) *model.PriceRecord {
		if failing[code] {
			return nil
		}
		return &model.PriceRecord{Code: code}
	}
	l := NewLoader(fetch, 3, 0, logger.GetLogger())

	codes := []string{"000001", "000002", "000003", "000004", "000005", "000006", "000007"}
	results := l.FetchMany(context.Background(), "tok", codes)

	if len(results) != len(codes)-len(failing) {
		t.Fatalf("got %d records, want %d", len(results), len(codes)-len(failing))
	}
	for _, rec := range results {
		if failing[rec.Code] {
			t.Errorf("failed code %s leaked into results", rec.Code)
		}
	}
}

func TestFetchManyAllFailuresStillSucceeds(t *testing.T) {
	fetch := func(ctx context.Context, token, code string) *model.PriceRecord { return nil }
	l := NewLoader(fetch, 2, 0, logger.GetLogger())

	results := l.FetchMany(context.Background(), "tok", []string{"a", "b", "c"})
	if len(results) != 0 {
		t.Fatalf("expected empty result, got %d", len(results))
	}
}

func TestFetchManyRespectsChunkPacing(t *testing.T) {
	fetch := func(ctx context.Context, token, code string) *model.PriceRecord {
		return &model.PriceRecord{Code: code}
	}
	delay := 20 * time.Millisecond
	l := NewLoader(fetch, 1, delay, logger.GetLogger())

	codes := []string{"a", "b", "c", "d", "e"} // 5 chunks
	start := time.Now()
	results := l.FetchMany(context.Background(), "tok", codes)
	elapsed := time.Since(start)

	if len(results) != len(codes) {
		t.Fatalf("got %d records, want %d", len(results), len(codes))
	}
	// At least (M-1)*delay must pass before the final chunk begins.
	if min := time.Duration(len(codes)-1) * delay; elapsed < min {
		t.Fatalf("batch finished in %s, pacing requires at least %s", elapsed, min)
	}
}

func TestFetchManyChunksAreSequential(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	fetch := func(ctx context.Context, token, code string) *model.PriceRecord {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &model.PriceRecord{Code: code}
	}

	l := NewLoader(fetch, 3, 0, logger.GetLogger())
	l.FetchMany(context.Background(), "tok", []string{"a", "b", "c", "d", "e", "f", "g"})

	// Fan-out happens inside a chunk but never across chunks.
	if maxInFlight > 3 {
		t.Fatalf("observed %d concurrent fetches, chunk size is 3", maxInFlight)
	}
}

func TestFetchManyStopsOnCancelledContext(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(ctx context.Context, token, code string) *model.PriceRecord {
		mu.Lock()
		calls++
		mu.Unlock()
		return &model.PriceRecord{Code: code}
	}
	l := NewLoader(fetch, 1, 10*time.Millisecond, logger.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := l.FetchMany(ctx, "tok", []string{"a", "b", "c"})

	mu.Lock()
	defer mu.Unlock()
	if calls > 1 {
		t.Fatalf("expected at most one chunk after cancellation, saw %d fetches", calls)
	}
	if len(results) > 1 {
		t.Fatalf("unexpected results after cancellation: %d", len(results))
	}
}
