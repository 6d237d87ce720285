package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/quillsign/pdfsign/keys"
)

// SignRequest is one document in a batch signing run.
type SignRequest struct {
	// ID labels the request in results and logs. Empty gets a generated
	// UUID.
	ID          string
	Data        []byte
	Credentials *keys.Credentials
	Options     SignOptions
}

// SignResult pairs a request with its outcome. Exactly one of Document
// and Err is set.
type SignResult struct {
	// ID echoes the request ID.
	ID string
	// Index is the request's position in the input slice.
	Index    int
	Document *Document
	Err      error
}

// SignAll signs every request over a bounded worker pool. Results come
// back in input order, one per request; individual failures never
// abort the batch, but context cancellation stops unstarted work.
func (e *Engine) SignAll(ctx context.Context, requests []SignRequest) []SignResult {
	results := make([]SignResult, len(requests))

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(requests) {
		workers = len(requests)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = e.signOne(ctx, idx, requests[idx])
			}
		}()
	}

	for idx := range requests {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			results[idx] = SignResult{
				ID:    requestID(requests[idx]),
				Index: idx,
				Err:   ctx.Err(),
			}
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (e *Engine) signOne(ctx context.Context, idx int, req SignRequest) SignResult {
	result := SignResult{ID: requestID(req), Index: idx}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	doc, err := ParseDocument(req.Data)
	if err != nil {
		result.Err = err
		return result
	}
	signed, err := e.SignDocument(ctx, doc, req.Credentials, req.Options)
	if err != nil {
		result.Err = err
		e.logger().WarnContext(ctx, "batch signing failed",
			slog.String("request", result.ID),
			slog.String("error", err.Error()),
		)
		return result
	}
	result.Document = signed
	return result
}

func requestID(req SignRequest) string {
	if req.ID != "" {
		return req.ID
	}
	return uuid.NewString()
}
