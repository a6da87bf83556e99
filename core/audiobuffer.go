package orchestration

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/lina-core/core/audio"
)

// audioBuffer relays synthesized audio from the synthesis callbacks to the
// playback worker and tracks how far the far end has actually played through
// confirmed marks. The read head is what the playback worker has consumed;
// the played head only advances when the transport confirms a mark, so it
// lags by however much audio the provider still has buffered.
type audioBuffer struct {
	mu sync.Mutex

	encodingInfo audio.EncodingInfo

	chunks [][]byte
	loaded bool

	readHead   int
	playedHead int

	// resumedAt anchors the rewind estimate: it is reset on every confirmed
	// mark and on resume, so elapsed time since it approximates how much
	// unconfirmed audio has played.
	resumedAt time.Time

	marks []bufferedMark

	stopped bool
	paused  bool

	wake chan struct{}
}

// bufferedMark sits between chunks. sent means the playback worker has
// forwarded it to the transport; confirmed means the transport reported it
// played.
type bufferedMark struct {
	id         string
	transcript string
	position   int
	sent       bool
	confirmed  bool
}

// playbackItem is one step of the playback iterator: either an audio chunk
// or a mark to pass through to the transport.
type playbackItem struct {
	audio  []byte
	markID string
}

func (i playbackItem) isMark() bool { return i.markID != "" }

func newAudioBuffer(encodingInfo audio.EncodingInfo) *audioBuffer {
	return &audioBuffer{
		encodingInfo: encodingInfo,
		wake:         make(chan struct{}, 1),
	}
}

func (b *audioBuffer) AddAudio(chunk []byte) {
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.notify()
}

// Mark records a playback marker behind all audio loaded so far, carrying
// the transcript of the text synthesized since the previous mark.
func (b *audioBuffer) Mark(transcript string) {
	b.mu.Lock()
	b.marks = append(b.marks, bufferedMark{
		id:         uuid.NewString(),
		transcript: transcript,
		position:   len(b.chunks),
	})
	b.mu.Unlock()
	b.notify()
}

// AllAudioLoaded marks that synthesis has finished; playback drains what is
// buffered and then completes.
func (b *audioBuffer) AllAudioLoaded() {
	b.mu.Lock()
	b.loaded = true
	b.mu.Unlock()
	b.notify()
}

// Items yields audio chunks and marks in playback order, blocking between
// arrivals. It finishes once every loaded chunk has been confirmed played,
// or immediately after Stop. Single consumer.
func (b *audioBuffer) Items(yield func(playbackItem) bool) {
	for {
		item, verdict := b.advance()
		switch verdict {
		case fetchDone:
			return
		case fetchWait:
			<-b.wake
		case fetchReady:
			if !yield(item) {
				return
			}
		}
	}
}

// advance moves the iterator one step under the lock. Due marks go out
// before more audio so a mark never trails the chunk behind it; the iterator
// is done once everything loaded has been confirmed, and waits whenever it
// is paused or has caught up with synthesis.
func (b *audioBuffer) advance() (playbackItem, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return playbackItem{}, fetchDone
	}
	if b.paused {
		return playbackItem{}, fetchWait
	}

	for i, mark := range b.marks {
		if mark.confirmed || mark.sent {
			continue
		}
		if mark.position > b.readHead {
			break
		}
		b.marks[i].sent = true
		return playbackItem{markID: mark.id}, fetchReady
	}

	if b.readHead < len(b.chunks) {
		chunk := b.chunks[b.readHead]
		b.readHead++
		if b.resumedAt.IsZero() {
			b.resumedAt = time.Now()
		}
		return playbackItem{audio: chunk}, fetchReady
	}

	if b.drained() {
		return playbackItem{}, fetchDone
	}
	return playbackItem{}, fetchWait
}

// ConfirmMark advances the played head to the confirmed mark's position.
// Confirms for unknown, unsent, or already-confirmed marks are ignored.
func (b *audioBuffer) ConfirmMark(markID string) {
	b.mu.Lock()
	finished := false
	for i, mark := range b.marks {
		if mark.confirmed {
			continue
		}
		if !mark.sent {
			break
		}
		if mark.id == markID {
			b.marks[i].confirmed = true
			b.playedHead = mark.position
			b.resumedAt = time.Now()
			finished = b.drained()
			break
		}
	}
	b.mu.Unlock()

	if finished {
		b.notify()
	}
}

// MarkTranscript returns the transcript behind a mark, or nil for unknown
// IDs.
func (b *audioBuffer) MarkTranscript(markID string) *string {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.marks {
		if b.marks[i].id == markID {
			transcript := b.marks[i].transcript
			return &transcript
		}
	}
	return nil
}

// SpokenTranscript joins the transcripts of every confirmed mark: the text
// the caller is known to have heard.
func (b *audioBuffer) SpokenTranscript() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	spoken := strings.Builder{}
	for _, mark := range b.marks {
		if !mark.confirmed {
			break
		}
		spoken.WriteString(mark.transcript)
	}
	return spoken.String()
}

// drained reports whether every loaded chunk has been confirmed played.
// Callers hold b.mu.
func (b *audioBuffer) drained() bool {
	return b.loaded && b.playedHead == len(b.chunks)
}

// Pause suspends the playback iterator and rewinds the read head to the
// estimated live position, so Resume replays what the transport dropped
// from its buffer rather than skipping ahead.
func (b *audioBuffer) Pause() {
	b.mu.Lock()
	if b.drained() || b.paused {
		b.mu.Unlock()
		return
	}

	b.paused = true
	b.rewindToLive()
	b.mu.Unlock()
	b.notify()
}

// rewindToLive estimates the live position from wall time since the last
// confirm, which bounds how much unconfirmed audio can have played. Callers
// hold b.mu.
func (b *audioBuffer) rewindToLive() {
	budget := b.encodingInfo.BytesIn(time.Since(b.resumedAt))
	live := b.playedHead
	for _, chunk := range b.chunks[b.playedHead:] {
		budget -= len(chunk)
		if budget < 0 {
			break
		}
		live++
	}
	b.playedHead = live
	b.readHead = live
	for i, mark := range b.marks {
		if mark.position > live {
			b.marks[i].sent = false
		}
	}
}

// Resume continues playback from the rewound position.
func (b *audioBuffer) Resume() {
	b.mu.Lock()
	if b.drained() || !b.paused {
		b.mu.Unlock()
		return
	}

	b.paused = false
	b.resumedAt = time.Now()
	b.mu.Unlock()
	b.notify()
}

// Stop poisons the buffer; the iterator finishes at its next step.
func (b *audioBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	b.notify()
}

func (b *audioBuffer) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
