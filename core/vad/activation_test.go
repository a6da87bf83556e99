package vad

import (
	"testing"
	"time"
)

func TestActivationFiresAfterSustainedSpeech(t *testing.T) {
	a := NewActivation(100 * time.Millisecond)

	speech := Classification{Speech: true, Known: true}
	for i := uint64(0); i < 4; i++ {
		if a.Push(pcmFrame(t, i, 1000), speech) {
			t.Fatalf("expected no activation at %dms", (i+1)*20)
		}
	}
	if !a.Push(pcmFrame(t, 4, 1000), speech) {
		t.Fatal("expected activation once 100ms of speech accumulated")
	}
}

func TestActivationResetsOnSilence(t *testing.T) {
	a := NewActivation(100 * time.Millisecond)

	speech := Classification{Speech: true, Known: true}
	silence := Classification{Known: true}

	for i := uint64(0); i < 4; i++ {
		a.Push(pcmFrame(t, i, 1000), speech)
	}
	a.Push(pcmFrame(t, 4, 0), silence)

	// The silent frame broke the run; four more speech frames stay short.
	for i := uint64(5); i < 9; i++ {
		if a.Push(pcmFrame(t, i, 1000), speech) {
			t.Fatal("expected the silent frame to reset the speech run")
		}
	}
	if !a.Push(pcmFrame(t, 9, 1000), speech) {
		t.Fatal("expected activation after a fresh sustained run")
	}
}

func TestActivationFiresOncePerArm(t *testing.T) {
	a := NewActivation(40 * time.Millisecond)

	speech := Classification{Speech: true, Known: true}
	fired := 0
	for i := uint64(0); i < 10; i++ {
		if a.Push(pcmFrame(t, i, 1000), speech) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("expected a single activation until reset, got %d", fired)
	}

	a.Reset()
	for i := uint64(10); i < 12; i++ {
		if a.Push(pcmFrame(t, i, 1000), speech) {
			fired++
		}
	}
	if fired != 2 {
		t.Fatalf("expected the reset detector to fire again, got %d", fired)
	}
}

func TestActivationIgnoresUnknownClassification(t *testing.T) {
	a := NewActivation(40 * time.Millisecond)

	if a.Push(pcmFrame(t, 0, 1000), Classification{Speech: true}) {
		t.Fatal("expected unclassified frames to never activate")
	}
}
