package capturer

import (
	"context"
	"time"

	"github.com/bryanchriswhite/lumad/internal/logger"
)

// RunIdle drives outputs that do not capture the screen. It reports a
// luminance of 0 for every output each interval until ctx is done.
func RunIdle(ctx context.Context, outputs []string, controller Controller, interval time.Duration) error {
	if len(outputs) == 0 {
		return nil
	}
	log := logger.WithComponent("idle-capturer")
	log.Debug().Strs("outputs", outputs).Dur("interval", interval).Msg("Starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, name := range outputs {
			controller.Adjust(name, 0)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
