package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/digital-carver/keepass2/internal/progress"
	"github.com/digital-carver/keepass2/internal/status"
	"github.com/digital-carver/keepass2/internal/tui"
)

// surfaceFactory picks the progress display named by --surface. Surfaces
// draw on the real stdout: the console routes writes into them, not the
// other way around.
func surfaceFactory(ctx context.Context, name string) (status.SurfaceFactory, error) {
	switch name {
	case "bar":
		return progress.Factory(ctx, os.Stdout), nil
	case "tui":
		return tui.Factory(ctx, os.Stdin, os.Stdout), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid --surface %q: must be bar, tui or none", name)
	}
}

// operationStatus builds what one operation reports to: the on-demand
// display plus the log. wait blocks until a threaded display is gone.
func operationStatus(ctx context.Context) (st status.Logger, wait func(), err error) {
	factory, err := surfaceFactory(ctx, viper.GetString("surface"))
	if err != nil {
		return nil, nil, err
	}

	interval := viper.GetDuration("poll-interval")
	if interval <= 0 {
		interval = status.DefaultPollInterval
	}

	d := status.NewOnDemand(status.Options{
		Threaded:   viper.GetBool("threaded"),
		Owner:      term,
		NewSurface: factory,
		Pump:       status.SleepPump(interval),
		Logger:     zap.S().Named("status"),
	})
	return status.NewMulti(d, status.NewZapLogger(zap.S())), d.Wait, nil
}
