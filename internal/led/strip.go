package led

import (
	"errors"
	"fmt"
	"io"

	"github.com/kjstillabower/metar-led-map/internal/colors"
	"github.com/kjstillabower/metar-led-map/internal/observability"
)

// ErrLengthMismatch is returned when a frame does not match the strip length.
var ErrLengthMismatch = errors.New("frame length does not match LED count")

// Sink is the hardware side of a strip. Write receives the whole encoded
// frame, 3 bytes per LED, in one call.
type Sink interface {
	Write(p []byte) (int, error)
	Halt() error
}

// Strip is the single owner of a Sink. Channel order and brightness are
// applied here so colors stay hardware independent upstream. Not safe for
// concurrent use.
type Strip struct {
	sink       Sink
	numLEDs    int
	order      colors.ChannelOrder
	brightness uint8
	buf        []byte
}

func NewStrip(sink Sink, numLEDs int, order colors.ChannelOrder, brightness uint8) (*Strip, error) {
	if sink == nil {
		return nil, errors.New("led sink is required")
	}
	if numLEDs <= 0 {
		return nil, fmt.Errorf("LED count must be positive, got %d", numLEDs)
	}
	return &Strip{
		sink:       sink,
		numLEDs:    numLEDs,
		order:      order,
		brightness: brightness,
		buf:        make([]byte, numLEDs*3),
	}, nil
}

func (s *Strip) Len() int { return s.numLEDs }

// Write validates frame, encodes it into one buffer and issues a single
// sink write. Nothing reaches the sink when validation fails.
func (s *Strip) Write(frame Frame) error {
	if len(frame) != s.numLEDs {
		observability.LEDWritesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(frame), s.numLEDs)
	}
	for i, c := range frame {
		b := s.order.Bytes(c.Scale(s.brightness))
		copy(s.buf[i*3:], b[:])
	}

	n, err := s.sink.Write(s.buf)
	if err == nil && n != len(s.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		observability.LEDWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("led write: %w", err)
	}
	observability.LEDWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// Clear turns every LED off.
func (s *Strip) Clear() error {
	return s.Write(NewFrame(s.numLEDs))
}

// Close clears the strip and halts the sink.
func (s *Strip) Close() error {
	clearErr := s.Clear()
	if err := s.sink.Halt(); err != nil {
		return fmt.Errorf("led halt: %w", err)
	}
	return clearErr
}
