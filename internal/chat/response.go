package chat

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/yukin371/palaver/internal/core"
)

// Response is the handle for one submission. Text arrives as chunks; the
// handle memoizes everything it has seen, so Chunks can be iterated more
// than once: a later iteration replays the memoized prefix and then
// continues pulling live chunks where the first left off.
//
// Iterating from multiple goroutines at once is not supported.
type Response struct {
	ch chan string

	mu       sync.Mutex
	chunks   []string
	text     strings.Builder
	err      error
	warnings []core.Warning
	closed   bool
	consumed bool
}

func newResponse() *Response {
	// Unbuffered on purpose: the submission loop advances only as fast
	// as the consumer pulls.
	return &Response{ch: make(chan string)}
}

// emit hands one chunk to the consumer, or gives up when ctx is done.
func (r *Response) emit(ctx context.Context, text string) error {
	select {
	case r.ch <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail records the submission error. The first error wins.
func (r *Response) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *Response) warn(w core.Warning) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

// finish closes the chunk channel. Safe to call once per submission.
func (r *Response) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// next pulls one live chunk and memoizes it.
func (r *Response) next() (string, bool) {
	text, ok := <-r.ch
	if !ok {
		r.mu.Lock()
		r.consumed = true
		r.mu.Unlock()
		return "", false
	}
	r.mu.Lock()
	r.chunks = append(r.chunks, text)
	r.text.WriteString(text)
	r.mu.Unlock()
	return text, true
}

// Chunks iterates the response text chunk by chunk. Already-memoized
// chunks replay immediately; once the replay catches up, iteration
// advances the underlying submission.
func (r *Response) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		i := 0
		for {
			r.mu.Lock()
			buffered := make([]string, len(r.chunks)-i)
			copy(buffered, r.chunks[i:])
			r.mu.Unlock()

			for _, text := range buffered {
				i++
				if !yield(text) {
					return
				}
			}

			text, ok := r.next()
			if !ok {
				return
			}
			i++
			if !yield(text) {
				return
			}
		}
	}
}

// Wait drains the response to completion.
func (r *Response) Wait() {
	for range r.Chunks() {
	}
}

// Text drains the response and returns everything the model said.
func (r *Response) Text() string {
	r.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

// Err reports the error the submission ended with, if any. Meaningful
// once the response is consumed.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Warnings returns recoverable anomalies the provider reported while
// producing this response.
func (r *Response) Warnings() []core.Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Consumed reports whether the submission has been drained.
func (r *Response) Consumed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consumed
}
