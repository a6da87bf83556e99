//go:build cgo

// Package portaudio provides a blocking speaker sink through PortAudio,
// usable as an alternative playback device for the local telephony
// transport on systems where miniaudio misbehaves.
package portaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/lina-core/core/audio"
)

const sampleRate = 48000

// Sink plays linear16 audio through the default output device using
// PortAudio's blocking write API. SendAudio blocks while the device
// drains, which paces callers at playback speed.
type Sink struct {
	bufferSize int
	stream     *portaudio.Stream
	out        []int16
	leftover   []byte
}

// NewSink opens the default output device. bufferSize is the write
// granularity in samples; writes block per bufferSize chunk.
func NewSink(bufferSize int) (*Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, sampleRate, bufferSize, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Sink{
		bufferSize: bufferSize,
		stream:     stream,
		out:        out,
	}, nil
}

// SendAudio writes whole buffers to the device and keeps the remainder
// for the next call.
func (s *Sink) SendAudio(data []byte) error {
	chunkBytes := s.bufferSize * 2

	data = append(s.leftover, data...)
	for len(data) >= chunkBytes {
		if err := binary.Read(bytes.NewReader(data[:chunkBytes]), binary.LittleEndian, s.out); err != nil {
			return fmt.Errorf("failed to stage portaudio buffer: %w", err)
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
		data = data[chunkBytes:]
	}
	s.leftover = append(s.leftover[:0:0], data...)

	return nil
}

// Flush pads the buffered remainder with silence and writes it out.
func (s *Sink) Flush() error {
	if len(s.leftover) == 0 {
		return nil
	}

	chunk := make([]byte, s.bufferSize*2)
	copy(chunk, s.leftover)
	s.leftover = s.leftover[:0]

	if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, s.out); err != nil {
		return fmt.Errorf("failed to stage portaudio buffer: %w", err)
	}
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("failed to write to portaudio stream: %w", err)
	}
	return nil
}

// ClearBuffer drops buffered audio that has not been written yet.
func (s *Sink) ClearBuffer() {
	s.leftover = s.leftover[:0]
}

func (s *Sink) Close() {
	_ = s.stream.Close()
	_ = portaudio.Terminate()
}

func (s *Sink) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
