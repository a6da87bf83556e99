package orchestration

import (
	"strings"
	"sync"
)

// textBuffer relays streamed response text from the generation worker to the
// synthesis worker. Chunks come out in the order they went in; the consumer
// blocks until more text arrives, the producer marks the text complete, or
// the buffer is cleared.
type textBuffer struct {
	mu        sync.Mutex
	chunks    []string
	delivered int
	complete  bool
	cleared   bool

	wake chan struct{}
}

// Verdicts the buffer iterators step on: yield the fetched item, block for
// the next state change, or finish.
const (
	fetchReady = iota
	fetchWait
	fetchDone
)

func newTextBuffer() *textBuffer {
	return &textBuffer{wake: make(chan struct{}, 1)}
}

func (b *textBuffer) AddChunk(chunk string) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.notify()
}

// Complete marks that no more chunks will be added. The Chunks iterator
// finishes once the backlog drains.
func (b *textBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.notify()
}

// Chunks yields buffered chunks in order, blocking between arrivals. It is a
// single-consumer iterator.
func (b *textBuffer) Chunks(yield func(string) bool) {
	for {
		chunk, verdict := b.fetch()
		switch verdict {
		case fetchDone:
			return
		case fetchWait:
			<-b.wake
		case fetchReady:
			if !yield(chunk) {
				return
			}
		}
	}
}

// fetch takes the next undelivered chunk. A cleared buffer is done even with
// a backlog; a complete one only once the backlog drains.
func (b *textBuffer) fetch() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.cleared:
		return "", fetchDone
	case b.delivered < len(b.chunks):
		chunk := b.chunks[b.delivered]
		b.delivered++
		return chunk, fetchReady
	case b.complete:
		return "", fetchDone
	default:
		return "", fetchWait
	}
}

// Text returns everything buffered so far, delivered or not.
func (b *textBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Join(b.chunks, "")
}

// Clear poisons the buffer: the iterator stops at its next step no matter
// what is still queued.
func (b *textBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.notify()
}

func (b *textBuffer) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
