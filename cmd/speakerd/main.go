// Package main provides the speaker daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/adfspeaker/internal/api/connect"
	"github.com/osa030/adfspeaker/internal/app/button"
	"github.com/osa030/adfspeaker/internal/app/device"
	"github.com/osa030/adfspeaker/internal/app/media"
	"github.com/osa030/adfspeaker/internal/app/notification"
	"github.com/osa030/adfspeaker/internal/app/speaker"
	"github.com/osa030/adfspeaker/internal/domain/pcm"
	"github.com/osa030/adfspeaker/internal/infra/config"
	"github.com/osa030/adfspeaker/internal/infra/decoder"
	"github.com/osa030/adfspeaker/internal/infra/gpio"
	"github.com/osa030/adfspeaker/internal/infra/logger"
	"github.com/osa030/adfspeaker/internal/infra/sink"
	"github.com/osa030/adfspeaker/internal/infra/stream"
)

var (
	app        = kingpin.New("speakerd", "Streaming speaker daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/speaker.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-outputs command
	listOutputsCmd = app.Command("list-outputs", "List available sink and output enable types and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listOutputsCmd.FullCommand() {
		printOutputs()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	format := pcm.Format{
		SampleRate: cfg.Speaker.SampleRate,
		BitDepth:   cfg.Speaker.BitDepth,
		Channels:   cfg.Speaker.Channels,
	}

	// Hardware collaborators
	out, err := sink.New(cfg.Sink.Type, cfg.Sink.Settings)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	enable, err := gpio.New(cfg.OutputEnable.Type, cfg.OutputEnable.Settings)
	if err != nil {
		return fmt.Errorf("failed to create output enable: %w", err)
	}
	dev := device.New(cfg.Sink.Type)

	// Playback core
	spk := speaker.New(dev, out, enable, speaker.Options{
		Name:            cfg.Speaker.Name,
		QueueCapacity:   cfg.Speaker.QueueCapacity,
		EventCapacity:   cfg.Speaker.EventCapacity,
		IdleTimeout:     cfg.Speaker.IdleTimeout(),
		StartTimeout:    cfg.Speaker.StartTimeout(),
		WriteRetryDelay: 10 * time.Millisecond,
		Format:          format,
	})
	if err := spk.Setup(); err != nil {
		return fmt.Errorf("failed to set up speaker: %w", err)
	}

	notifier := notification.NewManager()
	defer notifier.Close()
	spk.OnStatusChange(notifier.UpdateSpeaker)

	// Media player
	streams := stream.New(ctx, stream.Config{
		Timeout:   cfg.Stream.Timeout(),
		UserAgent: cfg.Stream.UserAgent,
		Auth: stream.AuthConfig{
			TokenURL:     cfg.Stream.Auth.TokenURL,
			ClientID:     cfg.Stream.Auth.ClientID,
			ClientSecret: cfg.Stream.Auth.ClientSecret,
			Scopes:       cfg.Stream.Auth.Scopes,
		},
	})
	playerOpts := media.DefaultOptions(format)
	playerOpts.DefaultURL = cfg.Media.DefaultURL
	playerOpts.InitialVolume = cfg.Media.InitialVolume
	playerOpts.VolumeStep = cfg.Media.VolumeStep
	playerOpts.RetryInterval = cfg.Speaker.Tick()
	player := media.NewPlayer(spk, openMedia(streams), playerOpts)
	player.OnStatusChange(notifier.UpdateMedia)

	buttons := button.NewHandler(player, cfg.Buttons.Debounce(), cfg.Buttons.ModeDebounce())

	// Scheduler tick
	go spk.Run(ctx, cfg.Speaker.Tick())

	// RPC service
	speakerService := apiconnect.NewSpeakerService(player, buttons, notifier)
	mux := http.NewServeMux()
	path, handler := apiconnect.NewSpeakerServiceHandler(
		speakerService,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s sink=%s format=%s", cfg.Server.Addr, cfg.Sink.Type, format)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Stop feeding before the speaker drains and releases the device
	player.Stop()
	spk.Close(2 * time.Second)
	cancel()

	// Close watch streams before shutting the server down
	speakerService.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// openMedia connects the stream client to the decoders.
func openMedia(streams *stream.Client) media.OpenFunc {
	return func(ctx context.Context, url string) (pcm.Source, error) {
		s, err := streams.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		src, format, err := decoder.OpenDetect(s.Body, s.Hint)
		if err != nil {
			return nil, err
		}
		zlog.Info().Msgf("Decoding %s as %s: %dHz %dch", url, format, src.SampleRate(), src.Channels())
		return src, nil
	}
}

// printOutputs prints available sink and output enable types.
func printOutputs() {
	fmt.Println("Sinks:")
	fmt.Printf("  %-12s - %s\n", "discard", "drop audio, optionally paced in real time (settings: realtime)")
	fmt.Printf("  %-12s - %s\n", "wav", "record each session to a WAV file (settings: dir, prefix)")
	fmt.Printf("  %-12s - %s\n", "portaudio", "play on the default audio device (settings: frames_per_buffer)")
	fmt.Println("Output enable:")
	fmt.Printf("  %-12s - %s\n", "none", "no amplifier control")
	fmt.Printf("  %-12s - %s\n", "sysfs", "drive a sysfs GPIO value file (settings: value_path, active_low)")
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
