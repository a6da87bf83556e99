package audio

import (
	"testing"
	"time"
)

func TestSamplesBytesRoundtrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	back := BytesToSamples(SamplesToBytes(samples))
	if len(back) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(back))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Fatalf("expected %d at %d, got %d", samples[i], i, back[i])
		}
	}
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	if got := RMS(make([]int16, 160)); got != 0 {
		t.Fatalf("expected zero RMS for silence, got %f", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected zero RMS for no samples, got %f", got)
	}
}

func TestRMSOfConstantSignal(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = 1000
	}
	if got := RMS(samples); got < 999.9 || got > 1000.1 {
		t.Fatalf("expected RMS 1000 for a constant signal, got %f", got)
	}
}

func TestToneShape(t *testing.T) {
	tone := Tone(600, 300*time.Millisecond, 16000, 8000)
	if len(tone) != 2400 {
		t.Fatalf("expected 2400 samples for 300ms at 8kHz, got %d", len(tone))
	}
	if tone[0] != 0 {
		t.Fatalf("expected the tone to start at zero crossing, got %d", tone[0])
	}

	var peak int16
	for _, s := range tone {
		if s > peak {
			peak = s
		}
	}
	if peak < 15900 || peak > 16000 {
		t.Fatalf("expected peak near the requested amplitude, got %d", peak)
	}
}

func TestEncodingInfoMath(t *testing.T) {
	wire := WireEncoding()
	if got := wire.BytesIn(20 * time.Millisecond); got != 160 {
		t.Fatalf("expected 160 bytes per 20ms wire frame, got %d", got)
	}
	if got := wire.Duration(160); got != 20*time.Millisecond {
		t.Fatalf("expected 20ms for a 160-byte wire frame, got %v", got)
	}

	pcm := PCMEncoding()
	if got := pcm.BytesIn(20 * time.Millisecond); got != 640 {
		t.Fatalf("expected 640 bytes per 20ms pcm frame, got %d", got)
	}
}
