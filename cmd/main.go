package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-voice/internal/audio/capture"
	audioconfig "p2p-voice/internal/audio/config"
	"p2p-voice/internal/audio/pipeline"
	"p2p-voice/internal/audio/playback"
	"p2p-voice/internal/audio/resample"
	"p2p-voice/internal/audio/wavfile"
	"p2p-voice/internal/metrics"
	"p2p-voice/internal/rtc"
	"p2p-voice/internal/transport"
	"p2p-voice/pkg/config"
	"p2p-voice/pkg/interface/desktop"
	"p2p-voice/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// drainDelay is how long a finished input file keeps the call open so the
// last frames reach the output.
const drainDelay = time.Second

type captureDevice interface {
	Format() audioconfig.Format
	Start(sink capture.Appender) error
	Close() error
}

type playbackDevice interface {
	Format() audioconfig.Format
	Start(src playback.Reader) error
	Close() error
}

func main() {
	configPath := flag.String("config", ".env", "config file (yaml, json, toml or .env)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.InitLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Call failed")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	audioCfg, err := cfg.AudioSettings()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tr, start, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	capDev, playDev, err := openDevices(cfg)
	if err != nil {
		return err
	}

	pipe, err := pipeline.NewAudioPipeline(audioCfg, tr, playDev.Format(), pipeline.Options{Metrics: m})
	if err != nil {
		capDev.Close()
		playDev.Close()
		return fmt.Errorf("failed to create audio pipeline: %w", err)
	}
	// devices stop before the buffers they feed are released
	defer func() {
		capDev.Close()
		playDev.Close()
		pipe.Close()
	}()

	adapter, err := capture.NewAdapter(pipe, capDev.Format(), pipe.Format(), resample.Default(), audioCfg.Quality)
	if err != nil {
		return fmt.Errorf("failed to create capture adapter: %w", err)
	}
	log.Info().
		Str("codec", audioCfg.Type.String()).
		Stringer("stream", pipe.Format()).
		Stringer("capture", capDev.Format()).
		Stringer("playback", playDev.Format()).
		Bool("resampling", !adapter.Passthrough()).
		Msg("Audio pipeline ready")

	if err := capDev.Start(adapter); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	if err := playDev.Start(pipe); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return pipe.Run(ctx) })
	if start != nil {
		g.Go(func() error { return start(ctx) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Listen, reg) })
	}

	if src, ok := capDev.(*wavfile.Source); ok {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-src.Done():
			}
			log.Info().Msg("Input file finished")
			select {
			case <-ctx.Done():
			case <-time.After(drainDelay):
			}
			cancel()
			return nil
		})
	} else {
		console, err := desktop.NewDesktopInterface(pipe, os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			if err := console.StartDesktopInterface(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info().Strs("peers", pipe.Peers()).Msg("Call ended")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openTransport returns the transport for the configured mode and, for p2p,
// the function that runs discovery.
func openTransport(cfg *config.Config) (transport.Transport, func(context.Context) error, error) {
	switch cfg.Mode {
	case config.ModeLoopback:
		log.Info().Msg("Loopback mode, your own voice is played back")
		return transport.NewLoopbackEcho(transport.DefaultLoopbackBuffer), nil, nil
	default:
		iceServers, err := cfg.ICEServers()
		if err != nil {
			return nil, nil, err
		}
		network, err := rtc.NewNetwork(rtc.Config{
			ICEServers:      iceServers,
			Discover:        cfg.Discover(),
			IncludeLoopback: cfg.P2P.IncludeLoopback,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create network: %w", err)
		}
		return network, network.Start, nil
	}
}

func openDevices(cfg *config.Config) (captureDevice, playbackDevice, error) {
	var (
		capDev  captureDevice
		playDev playbackDevice
		err     error
	)
	if cfg.Audio.InputFile != "" {
		capDev, err = wavfile.NewSource(cfg.Audio.InputFile, cfg.Audio.FilePeriod)
	} else {
		capDev, err = capture.NewMalgoCapture(cfg.Audio.Channels)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture: %w", err)
	}

	if cfg.Audio.OutputFile != "" {
		playDev, err = wavfile.NewSink(cfg.Audio.OutputFile, capDev.Format(), cfg.Audio.FilePeriod)
	} else {
		playDev, err = playback.NewMalgoPlayback(cfg.Audio.Channels)
	}
	if err != nil {
		capDev.Close()
		return nil, nil, fmt.Errorf("failed to open playback: %w", err)
	}
	return capDev, playDev, nil
}
