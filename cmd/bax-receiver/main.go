package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bax-receiver/internal/framing"
	"bax-receiver/internal/metrics"
	"bax-receiver/internal/radio"
	"bax-receiver/internal/receiver"
	"bax-receiver/internal/session"
	"bax-receiver/internal/store"
	"bax-receiver/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if len(os.Args) > 1 {
		if cmd, ok := subcommands[os.Args[1]]; ok {
			if err := cmd(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
				os.Exit(1)
			}
			return
		}
	}
	os.Exit(run())
}

func run() int {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return 1
	}
	set, err := cfg.validate()
	if err != nil {
		bootLogger.Error("invalid config", "err", err)
		return 1
	}

	// Units written to stdout must not interleave with log lines.
	logOut := io.Writer(os.Stdout)
	if cfg.Output.Path == "-" {
		logOut = os.Stderr
	}
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)
	logger.Info("bax-receiver starting", "version", version, "source", cfg.Source.Type)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		return 1
	}
	defer db.Close()

	out, err := openOutput(cfg.Output.Path)
	if err != nil {
		logger.Error("open output", "err", err)
		return 1
	}
	if out != nil {
		defer out.Close()
	}

	bus := receiver.NewEventBus(logger)
	rcvCfg := receiver.Config{
		Filter:         set.filter,
		Links:          set.links,
		InfoFile:       cfg.Receiver.InfoFile,
		Subnet:         cfg.Receiver.Subnet,
		SubnetMask:     cfg.Receiver.SubnetMask,
		Capacity:       *cfg.Receiver.Capacity,
		History:        *cfg.Receiver.History,
		OutputEncoding: set.outputEncoding,
		HealthInterval: set.healthInterval,
	}
	if out != nil {
		rcvCfg.Output = out
	}
	rcv, err := receiver.New(rcvCfg, bus, logger.With("component", "receiver"))
	if err != nil {
		logger.Error("create receiver", "err", err)
		return 1
	}
	instance := rcv.Stats().Instance

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, sess, err := openSource(ctx, cfg, set, rcv, db, logger)
	if err != nil {
		logger.Error("open source", "err", err)
		return 1
	}

	unsubSnapshots := bus.OnAll(receiver.SnapshotSink(db, logger))
	defer unsubSnapshots()

	auto := initAutomation(rcv, cfg, logger)
	mqtt := initMQTT(rcv, cfg, instance, logger)
	nats := initNATS(rcv, cfg, set, instance, logger)

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithSnapshots(db),
		web.WithMetrics(metrics.Handler(rcv)),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if sess != nil {
		webOpts = append(webOpts, web.WithSession(sess))
	}
	webServer := web.NewServer(rcv, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- rcv.Run(ctx, src) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig)
		cancel()
		src.Close()
		if err := <-runErr; err != nil {
			logger.Error("receiver", "err", err)
		}
	case err := <-runErr:
		if err != nil {
			logger.Error("receiver stopped", "err", err)
			exitCode = 1
			if errors.Is(err, session.ErrRenewalFailed) {
				logger.Error("gateway session lost, exiting")
			}
		} else {
			logger.Info("source exhausted, shutting down")
		}
		cancel()
		src.Close()
	}
	signal.Stop(sigCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	nats.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	st := rcv.Stats()
	logger.Info("goodbye", "received", st.Received, "forwarded", st.Forwarded, "data_number", st.DataNumber)
	return exitCode
}

// openSource starts the configured input. For the udp source the gateway
// session is returned as well so the API can report it.
func openSource(ctx context.Context, cfg *Config, set *settings, rcv *receiver.Receiver, db store.Store, logger *slog.Logger) (receiver.Source, *session.Session, error) {
	switch cfg.Source.Type {
	case "serial":
		dongle, err := radio.OpenDongle(cfg.Serial.Port, cfg.Serial.Baud, set.serialEncoding, logger.With("component", "radio"))
		if err != nil {
			return nil, nil, err
		}
		if cfg.Serial.InitScript != "" {
			if err := runInitScript(dongle, cfg.Serial.InitScript, logger); err != nil {
				dongle.Close()
				return nil, nil, err
			}
		}
		rcv.SetRadio(dongle)
		logger.Info("radio ready", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud, "state", dongle.State())
		return receiver.NewRadioSource(dongle), nil, nil

	case "file":
		src, err := receiver.OpenFileSource(cfg.Source.Path, set.fileEncoding, set.fileFormat)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("replaying", "path", cfg.Source.Path, "encoding", set.fileEncoding, "format", cfg.Source.Format)
		return src, nil, nil

	case "udp":
		sess, err := session.Open(ctx, session.Config{
			Gateway:          cfg.Gateway.Address,
			MAC:              cfg.Gateway.MAC,
			Username:         cfg.Gateway.Username,
			Password:         cfg.Gateway.Password,
			Lease:            cfg.Gateway.Lease,
			NextSession:      cfg.Gateway.NextSession,
			DiscoveryTimeout: set.discoveryTimeout,
		}, db, logger)
		if err != nil {
			return nil, nil, err
		}
		st := sess.Status()
		logger.Info("gateway session open", "gateway", st.Gateway, "mac", st.MAC, "lease", st.Lease)
		return receiver.NewStreamSource(sess, framing.EncodingRaw, receiver.FormatUnits), sess, nil
	}
	return nil, nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
}

func runInitScript(d *radio.Dongle, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open init script: %w", err)
	}
	defer f.Close()
	cmds, err := radio.ParseScript(f, logger)
	if err != nil {
		return err
	}
	if err := d.RunScript(cmds); err != nil {
		return err
	}
	logger.Info("radio init script sent", "path", path, "commands", len(cmds))
	return nil
}

// openOutput opens the unit output stream. Files are appended to.
func openOutput(path string) (io.WriteCloser, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
