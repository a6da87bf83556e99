//go:build cgo

package miniaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// microphone wraps a capture device. The data callback fires on the device
// thread, so the sink is swapped under a mutex and must not block.
type microphone struct {
	mu     sync.Mutex
	device *malgo.Device
	sink   func(audio []byte)
}

func (m *microphone) open(engine *malgo.AllocatedContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = deviceSampleRate
	config.Capture.Format = malgo.FormatS16
	config.Capture.Channels = 1
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = deviceSampleRate / 100 // 10ms of audio
	config.Periods = 3

	sampleBytes := malgo.SampleSizeInBytes(config.Capture.Format)

	device, err := malgo.InitDevice(engine.Context, config, malgo.DeviceCallbacks{
		Data: func(_, captured []byte, frameCount uint32) {
			m.deliver(captured, int(frameCount)*sampleBytes)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	m.device = device
	return nil
}

func (m *microphone) deliver(captured []byte, n int) {
	if n == 0 || len(captured) < n {
		return
	}
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink(captured[:n])
	}
}

func (m *microphone) start(sink func(audio []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.device == nil:
		return errors.New("device not initialized")
	case m.device.IsStarted():
		return nil
	}

	m.sink = sink
	if err := m.device.Start(); err != nil {
		m.sink = nil
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (m *microphone) stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.device == nil:
		return errors.New("device not initialized")
	case !m.device.IsStarted():
		return nil
	}

	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	m.sink = nil
	return nil
}

func (m *microphone) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.sink = nil
}
