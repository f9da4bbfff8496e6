package led

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"
)

// spiFreq is the SPI clock used to emit the NRZ waveform of WS281x strings.
const spiFreq = 2500 * physic.KiloHertz

// SPISink drives a WS281x string through an SPI port. It receives bytes
// already in wire order; nrzled always emits its input's first two channels
// swapped (RGB in, GRB out), so Write swaps them back first.
type SPISink struct {
	port spi.PortCloser
	dev  *nrzled.Dev
	buf  []byte
}

// OpenSPI initializes the host drivers and opens portName ("" = first port).
func OpenSPI(portName string, numLEDs int) (*SPISink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", portName, err)
	}
	return newSPISink(port, numLEDs)
}

func newSPISink(port spi.PortCloser, numLEDs int) (*SPISink, error) {
	dev, err := nrzled.NewSPI(port, &nrzled.Opts{
		NumPixels: numLEDs,
		Channels:  3,
		Freq:      spiFreq,
	})
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("open led string: %w", err)
	}
	return &SPISink{port: port, dev: dev, buf: make([]byte, numLEDs*3)}, nil
}

func (s *SPISink) Write(p []byte) (int, error) {
	if len(p)%3 != 0 {
		return 0, fmt.Errorf("spi sink: %d bytes is not whole pixels", len(p))
	}
	if cap(s.buf) < len(p) {
		s.buf = make([]byte, len(p))
	}
	buf := s.buf[:len(p)]
	for i := 0; i < len(p); i += 3 {
		buf[i], buf[i+1], buf[i+2] = p[i+1], p[i], p[i+2]
	}
	if _, err := s.dev.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *SPISink) Halt() error {
	return s.dev.Halt()
}

// Close releases the SPI port. Call after Halt.
func (s *SPISink) Close() error {
	return s.port.Close()
}
