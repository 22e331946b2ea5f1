package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/lumad/internal/api"
	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/controller"
	"github.com/bryanchriswhite/lumad/internal/dbus"
	"github.com/bryanchriswhite/lumad/internal/frame/capturer"
	"github.com/bryanchriswhite/lumad/internal/frame/processor"
	_ "github.com/bryanchriswhite/lumad/internal/frame/processor/vulkan"
	"github.com/bryanchriswhite/lumad/internal/logger"
	"github.com/bryanchriswhite/lumad/internal/wayland"
	"github.com/bryanchriswhite/lumad/internal/x11"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the luminance daemon",
	Long: `Start capturing every configured output and report its luminance.

wlroots outputs are captured through the export-dmabuf protocol and reduced
on the GPU, x11 outputs are read from the root window, and outputs without
a capturer report a luminance of 0.`,
	Example: `  # Run with the default config
  lumad run

  # Run with debug logging and the status API on port 9000
  lumad run --log-level debug --api-port 9000

  # Run with a specific config file
  lumad run --config /path/to/config.yaml`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// bare `lumad` runs the daemon
	rootCmd.RunE = runDaemon
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	logger.Init(cfg.LogLevel, cfg.PrettyLog)
	log := logger.WithComponent("lumad")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", configMgr.GetConfigPath(), err)
	}

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("processor", string(cfg.Processor)).
		Int("outputs", len(cfg.Outputs())).
		Msg("Starting")

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := controller.NewRecorder()
	sink := controller.NewFanout(recorder)

	if cfg.DBus.Enabled {
		emitter, err := dbus.NewEmitter(recorder)
		if err != nil {
			return err
		}
		defer emitter.Close()
		sink.Add(emitter)
	}

	g, ctx := errgroup.WithContext(sigCtx)
	timing := capturer.TimingFromConfig(cfg)

	// setup failures stop the backends already started
	abort := func(err error) error {
		stop()
		g.Wait()
		return diagnose(log, err)
	}

	if outputs := cfg.OutputsFor(config.CapturerWlroots); len(outputs) > 0 {
		proc, err := processor.New(cfg.Processor, processor.OptionsFromConfig(cfg))
		if err != nil {
			return abort(err)
		}
		defer proc.Close()

		client, err := wayland.Connect("")
		if err != nil {
			return abort(err)
		}

		c := capturer.New(client, proc, capturer.WithTiming(timing))
		for _, o := range outputs {
			c.AddSession(o.Name, sink)
		}
		g.Go(func() error {
			defer client.Close()
			return c.Run(ctx)
		})
	}

	if outputs := cfg.OutputsFor(config.CapturerX11); len(outputs) > 0 {
		xc, err := x11.NewCapturer(timing)
		if err != nil {
			return abort(err)
		}
		defer xc.Close()

		for _, o := range outputs {
			o := o
			g.Go(func() error {
				return xc.Run(ctx, o.Name, sink)
			})
		}
	}

	if outputs := cfg.OutputsFor(config.CapturerNone); len(outputs) > 0 {
		names := make([]string, 0, len(outputs))
		for _, o := range outputs {
			names = append(names, o.Name)
		}
		g.Go(func() error {
			return capturer.RunIdle(ctx, names, sink, cfg.Timing.IdleInterval)
		})
	}

	if cfg.API.Enabled {
		server := api.NewServer(recorder, configMgr)
		g.Go(func() error {
			return server.Start(ctx, cfg.API.Port)
		})
	}

	err = g.Wait()
	if sigCtx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		log.Info().Msg("Shutting down gracefully")
		return nil
	}
	if err == nil {
		return nil
	}
	return diagnose(log, err)
}

// diagnose logs a fatal error together with its class and returns it
func diagnose(log *zerolog.Logger, err error) error {
	class := "runtime failure"
	switch {
	case errors.Is(err, capturer.ErrPermanentCancel):
		class = "unsupported display reconfiguration"
	case errors.Is(err, capturer.ErrProtocolViolation):
		class = "protocol desynchronization"
	case errors.Is(err, processor.ErrInit):
		class = "GPU initialization failure"
	case errors.Is(err, processor.ErrNotImplemented):
		class = "processor not implemented"
	case errors.Is(err, wayland.ErrUnsupported):
		class = "unsupported compositor"
	}
	log.Error().Err(err).Str("class", class).Msg("Fatal error")
	return err
}
