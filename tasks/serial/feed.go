package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"tickrun/internal/isr"
	"tickrun/pkg/logx"
)

const defaultSimPeriod = 750 * time.Millisecond

// Feed pumps bytes from src into the RX ring until src drains or ctx
// ends. It plays the interrupt-handler side of the ring: overflow is
// drop-and-count, never backpressure on the source. Drops are added to
// overruns for the consuming task to report. Returns nil on EOF.
//
// Read on a pipe or terminal can block past cancellation; the caller's
// shutdown path must bound its wait rather than rely on Feed unblocking.
func Feed(ctx context.Context, src io.Reader, rx *isr.Ring, overruns *isr.Counter, log logx.Logger) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if w := rx.Write(buf[:n]); w < n {
				overruns.Add(uint64(n - w))
				log.Debug("rx ring overflow",
					logx.Int("dropped", n-w),
					logx.Uint64("dropped_total", rx.Dropped()),
				)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("serial source drained")
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

// Simulate writes a numbered telemetry line into the RX ring every
// period, standing in for a UART receive interrupt when no real source
// is wired up.
func Simulate(ctx context.Context, rx *isr.Ring, overruns *isr.Counter, period time.Duration, log logx.Logger) error {
	if period <= 0 {
		period = defaultSimPeriod
	}
	tk := time.NewTicker(period)
	defer tk.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			seq++
			temp := 21.0 + 3.0*math.Sin(float64(seq)/7.0)
			line := fmt.Sprintf("seq=%d temp=%.1f\n", seq, temp)
			if w := rx.Write([]byte(line)); w < len(line) {
				overruns.Add(uint64(len(line) - w))
				log.Debug("sim line dropped",
					logx.Int("written", w),
					logx.Uint64("dropped_total", rx.Dropped()),
				)
			}
		}
	}
}
