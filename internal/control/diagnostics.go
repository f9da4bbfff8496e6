package control

import (
	"bufio"
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/metar-led-map/internal/colors"
	"github.com/kjstillabower/metar-led-map/internal/flightcat"
	"github.com/kjstillabower/metar-led-map/internal/led"
)

// DiagnosticColor lights the active LED in CYCLE_AIRPORTS.
var DiagnosticColor = colors.Color{R: 140}

// testGroup is how many LEDs each TEST_DISPLAY group uses, one per category.
var testGroup = len(flightcat.All)

// AirportReport pairs a physical LED with the airport wired to it.
type AirportReport struct {
	LED     int
	Airport string
}

// CycleAirports lights each airport's LED alone, in physical order, and
// reports the pairs. It waits the dwell time, or for Enter when stepping,
// between airports. Cancellation ends the sequence cleanly; a write error
// aborts it. The LEDs are off on return.
func (r *Runner) CycleAirports(ctx context.Context) ([]AirportReport, error) {
	defer r.clear()

	order := r.physicalOrder()
	var reports []AirportReport
	first := true
	for {
		for _, a := range order {
			frame := led.NewFrame(r.out.Len())
			frame[a.LED] = DiagnosticColor
			if err := r.out.Write(frame); err != nil {
				r.logger.Error("led write failed, aborting airport cycle", zap.Error(err))
				return reports, err
			}
			r.logger.Info("airport", zap.Int("led", a.LED), zap.String("airport", a.ID))
			if first {
				reports = append(reports, AirportReport{LED: a.LED, Airport: a.ID})
			}
			if err := r.step(ctx); err != nil {
				return reports, nil
			}
		}
		first = false
		if !r.opts.CycleLoop || len(order) == 0 {
			return reports, nil
		}
	}
}

func (r *Runner) step(ctx context.Context) error {
	if !r.opts.StepOnEnter || r.input == nil {
		return r.sleep(ctx, r.opts.CycleDwell)
	}
	r.lineOnce.Do(func() {
		r.lines = make(chan struct{})
		go func() {
			sc := bufio.NewScanner(r.input)
			for sc.Scan() {
				r.lines <- struct{}{}
			}
			close(r.lines)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-r.lines:
		if !ok {
			return r.sleep(ctx, r.opts.CycleDwell)
		}
		return nil
	}
}

// TestFrames returns the TEST_DISPLAY sequence for n LEDs: every category at
// day intensity, then at night intensity, then both groups side by side.
// LEDs beyond n are dropped.
func TestFrames(n int, palette colors.Palette) []led.Frame {
	set := func(f led.Frame, i int, c colors.Color) {
		if i < len(f) {
			f[i] = c
		}
	}
	day, night, both := led.NewFrame(n), led.NewFrame(n), led.NewFrame(n)
	for i, cat := range flightcat.All {
		p := palette.Pair(cat)
		set(day, i, p.Day)
		set(night, i, p.Night)
		set(both, i, p.Day)
		set(both, testGroup+i, p.Night)
	}
	return []led.Frame{day, night, both}
}

// TestDisplay shows each TestFrames frame for the hold time. Cancellation
// ends the sequence cleanly; a write error aborts it. The LEDs are off on
// return.
func (r *Runner) TestDisplay(ctx context.Context) error {
	defer r.clear()

	names := []string{"day", "night", "side_by_side"}
	for i, frame := range TestFrames(r.out.Len(), r.palette) {
		if err := r.out.Write(frame); err != nil {
			r.logger.Error("led write failed, aborting test display", zap.Error(err))
			return err
		}
		r.logger.Info("test frame", zap.String("frame", names[i]), zap.Duration("hold", r.opts.TestHold))
		if err := r.sleep(ctx, r.opts.TestHold); err != nil {
			return nil
		}
	}
	return nil
}
