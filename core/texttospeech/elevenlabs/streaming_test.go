package elevenlabs

import (
	"slices"
	"testing"

	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/texttospeech"
)

func TestMarksSettleOnceAlignmentCoversThem(t *testing.T) {
	var settled []string
	r := &speechRequest{callbacks: newCallbackConfig(texttospeech.TextToSpeechOptions{
		SpeechMarkCallback: func(segment string) { settled = append(settled, segment) },
	})}

	// Opening space, "Hi.", mark with flush padding, "Bye.", mark.
	r.charsSent = 1
	r.charsSent += 3
	r.marks = append(r.marks, markPoint{offset: r.charsSent, segment: "Hi."})
	r.charsSent++
	r.charsSent += 4
	r.marks = append(r.marks, markPoint{offset: r.charsSent, segment: "Bye."})

	r.advanceSynthesis(2)
	if len(settled) != 0 {
		t.Fatalf("expected no marks before alignment covers the first segment, got %v", settled)
	}

	r.advanceSynthesis(2)
	if !slices.Equal(settled, []string{"Hi."}) {
		t.Fatalf("expected the first mark to settle, got %v", settled)
	}

	r.advanceSynthesis(5)
	if !slices.Equal(settled, []string{"Hi.", "Bye."}) {
		t.Fatalf("expected both marks to settle in order, got %v", settled)
	}
}

func TestSettleRemainingMarksFlushesUnconfirmedMarksInOrder(t *testing.T) {
	var settled []string
	r := &speechRequest{callbacks: newCallbackConfig(texttospeech.TextToSpeechOptions{
		SpeechMarkCallback: func(segment string) { settled = append(settled, segment) },
	})}

	r.marks = []markPoint{
		{offset: 10, segment: "First sentence."},
		{offset: 25, segment: "Second sentence."},
	}

	r.settleRemainingMarks()
	if !slices.Equal(settled, []string{"First sentence.", "Second sentence."}) {
		t.Fatalf("expected unconfirmed marks settled in order, got %v", settled)
	}
	if len(r.marks) != 0 {
		t.Fatalf("expected no marks left, got %d", len(r.marks))
	}
}

func TestOutputFormatCoversTelephonyAndPCMEncodings(t *testing.T) {
	format, err := outputFormat(defaultEncoding())
	if err != nil || format != "pcm_24000" {
		t.Fatalf("expected pcm_24000 for the default encoding, got %q (%v)", format, err)
	}

	format, err = outputFormat(audio.WireEncoding())
	if err != nil || format != "ulaw_8000" {
		t.Fatalf("expected ulaw_8000 for the wire encoding, got %q (%v)", format, err)
	}

	if _, err := outputFormat(audio.EncodingInfo{SampleRate: 11025, Format: audio.EncodingALaw}); err == nil {
		t.Fatal("expected an error for an unsupported encoding")
	}
}
