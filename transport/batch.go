package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalpost/signalpost-go/core"
)

// batchChunkSize is the fixed partition size for batch sends
const batchChunkSize = 10

// BatchResult is the outcome of one record within a batch. Exactly one
// of Response and Err is set.
type BatchResult struct {
	Index    int
	Record   core.Record
	Response map[string]interface{}
	Err      error
}

// BatchSend partitions records into fixed-size chunks and, per chunk,
// issues all sends concurrently. Each record resolves to an independent
// success or failure outcome in input order; one member's exhausted
// retries never aborts its siblings. A chunk-level failure outside the
// individual sends degrades every member of that chunk to a failure
// outcome rather than aborting the whole batch.
func (c *Client) BatchSend(ctx context.Context, records []core.Record) []BatchResult {
	results := make([]BatchResult, len(records))

	for offset := 0; offset < len(records); offset += batchChunkSize {
		end := offset + batchChunkSize
		if end > len(records) {
			end = len(records)
		}
		c.sendChunk(ctx, records[offset:end], offset, results)
	}

	return results
}

func (c *Client) sendChunk(ctx context.Context, chunk []core.Record, offset int, results []BatchResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &core.Error{
				Op:      "transport.BatchSend",
				Kind:    core.KindLocal,
				Message: fmt.Sprintf("chunk processing failed: %v", r),
				Err:     core.ErrRequestFailed,
			}
			for i, record := range chunk {
				results[offset+i] = BatchResult{Index: offset + i, Record: record, Err: err}
			}
		}
	}()

	// Route resolution happens on the chunk's own stack so a failure
	// here degrades the whole chunk instead of crashing a send goroutine.
	routes := make([]string, len(chunk))
	for i, record := range chunk {
		routes[i] = RouteFor(record)
	}

	var wg sync.WaitGroup
	for i, record := range chunk {
		wg.Add(1)
		go func(index int, route string, record core.Record) {
			defer wg.Done()
			response, err := c.Send(ctx, route, record, nil)
			results[index] = BatchResult{
				Index:    index,
				Record:   record,
				Response: response,
				Err:      err,
			}
		}(offset+i, routes[i], record)
	}
	wg.Wait()
}
