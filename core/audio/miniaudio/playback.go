//go:build cgo

package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// speaker wraps a playback device fed from an in-memory queue. Marks are
// positions in that queue; one is confirmed once every byte queued before it
// has been handed to the device.
type speaker struct {
	mu     sync.Mutex
	device *malgo.Device

	// queueMu guards the queue and marks; the device data callback takes it
	// on every period.
	queueMu sync.Mutex
	queue   []byte
	marks   []queuedMark
}

type queuedMark struct {
	name     string
	position int
	callback func(name string)
}

func (s *speaker) open(engine *malgo.AllocatedContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = deviceSampleRate
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = deviceSampleRate / 20 // ~50ms of audio
	config.Periods = 4

	sampleBytes := malgo.SampleSizeInBytes(config.Playback.Format)

	device, err := malgo.InitDevice(engine.Context, config, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.fill(out, int(frameCount)*sampleBytes)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	s.device = device
	return nil
}

func (s *speaker) enqueue(audio []byte) error {
	s.mu.Lock()
	device := s.device
	s.mu.Unlock()

	switch {
	case device == nil:
		return errors.New("device not initialized")
	case !device.IsStarted():
		return errors.New("device not started")
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, audio...)
	s.queueMu.Unlock()
	return nil
}

func (s *speaker) mark(name string, callback func(name string)) error {
	s.queueMu.Lock()
	s.marks = append(s.marks, queuedMark{
		name:     name,
		position: len(s.queue),
		callback: callback,
	})
	s.queueMu.Unlock()
	return nil
}

func (s *speaker) clear() {
	s.queueMu.Lock()
	s.queue = s.queue[:0]
	s.marks = nil
	s.queueMu.Unlock()
}

func (s *speaker) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
}

// fill feeds the device from the queue. Underruns leave the rest of the
// output buffer as the silence miniaudio pre-fills it with.
func (s *speaker) fill(out []byte, need int) {
	if need > len(out) {
		need = len(out)
	}

	s.queueMu.Lock()
	n := min(need, len(s.queue))
	copy(out, s.queue[:n])
	s.queue = s.queue[n:]

	var due []queuedMark
	remaining := s.marks[:0]
	for _, mark := range s.marks {
		mark.position -= n
		if mark.position <= 0 {
			due = append(due, mark)
		} else {
			remaining = append(remaining, mark)
		}
	}
	s.marks = remaining
	s.queueMu.Unlock()

	if len(due) > 0 {
		// Device callbacks must not block on downstream work.
		go func() {
			for _, mark := range due {
				if mark.callback != nil {
					mark.callback(mark.name)
				}
			}
		}()
	}
}
