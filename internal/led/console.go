package led

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ConsoleSink logs each frame instead of driving hardware. Used for dry runs.
type ConsoleSink struct {
	logger *zap.Logger

	mu     sync.Mutex
	last   []byte
	writes int
}

func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleSink{logger: logger}
}

func (s *ConsoleSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.last = append(s.last[:0], p...)
	s.writes++
	n := s.writes
	s.mu.Unlock()

	leds := make([]string, 0, len(p)/3)
	for i := 0; i+2 < len(p); i += 3 {
		leds = append(leds, fmt.Sprintf("%02x%02x%02x", p[i], p[i+1], p[i+2]))
	}
	s.logger.Info("frame",
		zap.Int("write", n),
		zap.String("leds", strings.Join(leds, " ")),
	)
	return len(p), nil
}

func (s *ConsoleSink) Halt() error {
	s.logger.Info("led string halted")
	return nil
}

// Last returns a copy of the most recent raw frame.
func (s *ConsoleSink) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}

// Writes returns how many frames have been written.
func (s *ConsoleSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
