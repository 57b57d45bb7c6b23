package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"stocklive/internal/model"
	"stocklive/logger"
)

// FetchFunc resolves one security code to a price record, returning nil on
// failure. kis.Client.FetchPrice satisfies this.
type FetchFunc func(ctx context.Context, token, code string) *model.PriceRecord

// Loader drives a FetchFunc over large code lists in fixed-size chunks.
// Fetches fan out concurrently inside a chunk; chunks run strictly
// sequentially with a fixed pacing delay between chunk starts, which is the
// sole protection for the upstream per-second rate limit. Failed codes are
// dropped, so a batch never fails as a whole: zero successes still returns an
// empty, valid result.
type Loader struct {
	fetch     FetchFunc
	chunkSize int
	delay     time.Duration
	limiter   *rate.Limiter
	log       *logger.Log
}

// NewLoader builds a loader. A delay of zero disables pacing.
func NewLoader(fetch FetchFunc, chunkSize int, delay time.Duration, log *logger.Log) *Loader {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	l := &Loader{
		fetch:     fetch,
		chunkSize: chunkSize,
		delay:     delay,
		log:       log,
	}
	if delay > 0 {
		l.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return l
}

// Chunk partitions codes into consecutive chunks of at most size elements.
// Every input appears in exactly one chunk; the last chunk may be shorter.
func Chunk(codes []string, size int) [][]string {
	if size <= 0 || len(codes) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(codes)+size-1)/size)
	for start := 0; start < len(codes); start += size {
		end := start + size
		if end > len(codes) {
			end = len(codes)
		}
		chunks = append(chunks, codes[start:end])
	}
	return chunks
}

// FetchMany fetches every code and returns the successful records. Order is
// only guaranteed at the chunk level. Cancelling the context stops the batch
// at the next chunk boundary and returns what was collected so far.
func (l *Loader) FetchMany(ctx context.Context, token string, codes []string) []model.PriceRecord {
	chunks := Chunk(codes, l.chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]model.PriceRecord, 0, len(codes))
	processed := 0

	for _, chunk := range chunks {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				l.log.WithComponent("batch_loader").WithError(err).Warn("batch cancelled between chunks")
				return results
			}
		} else if ctx.Err() != nil {
			return results
		}

		results = append(results, l.fetchChunk(ctx, token, chunk)...)
		processed += len(chunk)

		l.log.WithComponent("batch_loader").WithFields(logger.Fields{
			"processed": processed,
			"total":     len(codes),
			"valid":     len(results),
		}).Debug("chunk complete")
	}

	l.log.WithComponent("batch_loader").WithFields(logger.Fields{
		"total":      len(codes),
		"valid":      len(results),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Info("batch fetch complete")

	return results
}

// fetchChunk fans out one chunk and waits for every fetch to settle. Nil
// results are omitted.
func (l *Loader) fetchChunk(ctx context.Context, token string, chunk []string) []model.PriceRecord {
	slots := make([]*model.PriceRecord, len(chunk))
	var wg sync.WaitGroup
	for i, code := range chunk {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			slots[i] = l.fetch(ctx, token, code)
		}(i, code)
	}
	wg.Wait()

	out := make([]model.PriceRecord, 0, len(chunk))
	for _, rec := range slots {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}
