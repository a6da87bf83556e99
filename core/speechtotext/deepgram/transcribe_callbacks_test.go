package deepgram

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/koscakluka/lina-core/core/speechtotext"
)

func TestCallbackConfigToleratesUnsetCallbacks(t *testing.T) {
	callbacks := newCallbackConfig(speechtotext.TranscriptionOptions{})

	callbacks.interimTranscript("interim")
	callbacks.finalTranscript("final")
	callbacks.recoverableError(fmt.Errorf("socket dropped"))
}

func TestNewCallbackConfigKeepsConfiguredCallbacks(t *testing.T) {
	interimCalls := atomic.Int32{}
	finalCalls := atomic.Int32{}
	errorCalls := atomic.Int32{}

	callbacks := newCallbackConfig(speechtotext.TranscriptionOptions{
		InterimTranscriptCallback: func(string) { interimCalls.Add(1) },
		FinalTranscriptCallback:   func(string) { finalCalls.Add(1) },
		RecoverableErrorCallback:  func(error) { errorCalls.Add(1) },
	})

	callbacks.interimTranscript("hello")
	callbacks.finalTranscript("hello world")
	callbacks.recoverableError(fmt.Errorf("socket dropped"))

	if got := interimCalls.Load(); got != 1 {
		t.Fatalf("expected interim callback once, got %d", got)
	}
	if got := finalCalls.Load(); got != 1 {
		t.Fatalf("expected final callback once, got %d", got)
	}
	if got := errorCalls.Load(); got != 1 {
		t.Fatalf("expected recoverable-error callback once, got %d", got)
	}
}
