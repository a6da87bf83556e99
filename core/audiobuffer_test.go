package orchestration

import (
	"testing"
	"time"

	"github.com/koscakluka/lina-core/core/audio"
)

func testWireFormat() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}
}

// chunkOf builds an audio chunk of the given playback duration at the test
// wire format, so rewind arithmetic works on realistic sizes.
func chunkOf(d time.Duration) []byte {
	return make([]byte, testWireFormat().BytesIn(d))
}

// playOut drains the buffer on a separate goroutine, confirming every mark
// as soon as it is yielded, the way a healthy transport would.
func playOut(b *audioBuffer) (items chan playbackItem, done chan struct{}) {
	items = make(chan playbackItem, 64)
	done = make(chan struct{})
	go func() {
		defer close(done)
		for item := range b.Items {
			items <- item
			if item.isMark() {
				b.ConfirmMark(item.markID)
			}
		}
	}()
	return items, done
}

func expectAudio(t *testing.T, items chan playbackItem) []byte {
	t.Helper()
	select {
	case item := <-items:
		if item.isMark() {
			t.Fatalf("expected an audio chunk, got mark %q", item.markID)
		}
		return item.audio
	case <-time.After(2 * time.Second):
		t.Fatal("expected an audio chunk, playback yielded nothing")
	}
	return nil
}

func expectMark(t *testing.T, items chan playbackItem) string {
	t.Helper()
	select {
	case item := <-items:
		if !item.isMark() {
			t.Fatalf("expected a mark, got %d bytes of audio", len(item.audio))
		}
		return item.markID
	case <-time.After(2 * time.Second):
		t.Fatal("expected a mark, playback yielded nothing")
	}
	return ""
}

func expectPlaybackDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected playback to finish")
	}
}

func TestAudioBufferPlaysAudioThenTrailingMark(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AddAudio(chunkOf(100 * time.Millisecond))
	b.AddAudio(chunkOf(100 * time.Millisecond))
	b.Mark("Hello there.")
	b.AllAudioLoaded()

	items, done := playOut(b)

	expectAudio(t, items)
	expectAudio(t, items)
	expectMark(t, items)
	expectPlaybackDone(t, done)

	if got := b.SpokenTranscript(); got != "Hello there." {
		t.Fatalf("expected confirmed transcript, got %q", got)
	}
}

func TestAudioBufferFinishesOnlyAfterFinalMarkConfirmed(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AddAudio(chunkOf(100 * time.Millisecond))
	b.Mark("Done.")
	b.AllAudioLoaded()

	items := make(chan playbackItem, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for item := range b.Items {
			items <- item
		}
	}()

	expectAudio(t, items)
	markID := expectMark(t, items)

	select {
	case <-done:
		t.Fatal("expected playback to wait for the mark confirmation")
	case <-time.After(20 * time.Millisecond):
	}

	b.ConfirmMark(markID)
	expectPlaybackDone(t, done)
}

func TestAudioBufferFinishesWithoutAudio(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AllAudioLoaded()

	_, done := playOut(b)
	expectPlaybackDone(t, done)
}

func TestAudioBufferStopEndsPlayback(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AddAudio(chunkOf(100 * time.Millisecond))

	items, done := playOut(b)
	expectAudio(t, items)

	b.Stop()
	expectPlaybackDone(t, done)
}

func TestAudioBufferSpokenTranscriptStopsAtFirstUnconfirmedMark(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AddAudio(chunkOf(100 * time.Millisecond))
	b.Mark("First. ")
	b.AddAudio(chunkOf(100 * time.Millisecond))
	b.Mark("Second.")
	b.AllAudioLoaded()

	items := make(chan playbackItem, 8)
	go func() {
		for item := range b.Items {
			items <- item
		}
	}()

	expectAudio(t, items)
	first := expectMark(t, items)
	b.ConfirmMark(first)
	expectAudio(t, items)
	expectMark(t, items) // second mark yielded but never confirmed

	if got := b.SpokenTranscript(); got != "First. " {
		t.Fatalf("expected only the confirmed prefix, got %q", got)
	}

	b.Stop()
}

func TestAudioBufferPauseReplaysUnconfirmedAudio(t *testing.T) {
	b := newAudioBuffer(testWireFormat())
	b.AddAudio(chunkOf(2 * time.Second))
	b.Mark("Confirmed sentence. ")
	b.AddAudio(chunkOf(2 * time.Second))
	b.AddAudio(chunkOf(2 * time.Second))
	b.Mark("Never confirmed.")
	b.AllAudioLoaded()

	items := make(chan playbackItem, 8)
	go func() {
		for item := range b.Items {
			items <- item
		}
	}()

	expectAudio(t, items)
	b.ConfirmMark(expectMark(t, items))
	expectAudio(t, items)
	expectAudio(t, items)
	expectMark(t, items) // broadcast, never confirmed

	b.Pause()
	b.Resume()

	// The transport dropped everything past the confirmed mark from its
	// buffer when playback was paused; the buffer has to offer it again.
	expectAudio(t, items)
	expectAudio(t, items)
	expectMark(t, items)
	b.Stop()
}
