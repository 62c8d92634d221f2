// Package main implements the beacon broadcast controller entry point.
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

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/adapter/hcitool"
	"github.com/beacon-control/bcc/internal/api"
	"github.com/beacon-control/bcc/internal/audit"
	"github.com/beacon-control/bcc/internal/auth"
	"github.com/beacon-control/bcc/internal/broadcast"
	"github.com/beacon-control/bcc/internal/config"
	"github.com/beacon-control/bcc/internal/ibeacon"
	"github.com/beacon-control/bcc/internal/logging"
	"github.com/beacon-control/bcc/internal/privexec"
	"github.com/beacon-control/bcc/internal/store"
	"github.com/beacon-control/bcc/internal/telemetry"
	"github.com/beacon-control/bcc/internal/usbpower"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bcc: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("bcc", flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	flags.Apply(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, logCloser, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	log.WithField("version", version).Info("Starting beacon broadcast controller")

	defaultID, err := ibeacon.ParseIdentity(cfg.Beacon.UUID, cfg.Beacon.Major, cfg.Beacon.Minor, cfg.Beacon.RSSI)
	if err != nil {
		return fmt.Errorf("default beacon: %w", err)
	}

	runner := privexec.NewExecRunner(cfg.Bluetooth.UseSudo, cfg.CommandTimeout(), log)
	sink := hcitool.New(runner, hcitool.Options{
		Interface:     cfg.Bluetooth.Interface,
		HciconfigPath: cfg.Bluetooth.HciconfigPath,
		HcitoolPath:   cfg.Bluetooth.HcitoolPath,
	}, log)

	telemetryHub := telemetry.NewHub(telemetry.Options{
		BufferSize:        cfg.Telemetry.BufferSize,
		HeartbeatInterval: time.Duration(cfg.Telemetry.HeartbeatIntervalSec) * time.Second,
	}, log)
	defer telemetryHub.Stop()

	auditLogger, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.WithError(err).Warn("Error closing audit logger")
		}
	}()

	scheduler := broadcast.NewScheduler(sink, broadcast.Options{
		Dwell:      cfg.Dwell(),
		StopGrace:  cfg.StopGrace(),
		IntervalMs: cfg.Beacon.IntervalMs,
		Log:        log,
		Publisher:  telemetryHub,
		Audit:      auditLogger,
	})
	telemetryHub.SetSnapshot(scheduler.Snapshot)

	ctx := context.Background()
	if err := scheduler.Reset(ctx); err != nil {
		log.WithError(err).Warn("Could not reset Bluetooth interface at startup")
	}

	if cfg.OneShot() {
		return advertiseOnce(ctx, log, scheduler, defaultID)
	}

	var authMiddleware *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm:    cfg.Auth.Algorithm,
			SecretKey:    cfg.Auth.Secret,
			PublicKeyPEM: cfg.Auth.PublicKeyPEM,
			Issuer:       cfg.Auth.Issuer,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize auth: %w", err)
		}
		authMiddleware = auth.NewMiddleware(verifier)
		log.WithField("algorithm", cfg.Auth.Algorithm).Info("Bearer token auth enabled")
	}

	server := api.NewServer(api.Dependencies{
		Scheduler: scheduler,
		Telemetry: telemetryHub,
		USB: usbpower.New(runner, usbpower.Options{
			Location:    cfg.USB.Location,
			Port:        cfg.USB.Port,
			UhubctlPath: cfg.USB.UhubctlPath,
		}, log),
		Store: store.New(cfg.Store.Path, log),
		Radio: sink,
		Audit: auditLogger,
		Auth:  authMiddleware,
		Log:   log,
	}, api.Options{
		DefaultRSSI:  cfg.Beacon.RSSI,
		IntervalMs:   cfg.Beacon.IntervalMs,
		WebDir:       cfg.Server.WebDir,
		Version:      version,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	})

	addr := cfg.Addr()
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			serverErr <- err
		}
	}()

	printBanner(log, addr, cfg.Beacon.RSSI)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdown:
		log.WithField("signal", sig.String()).Info("Initiating graceful shutdown")
	case runErr = <-serverErr:
		log.WithError(runErr).Error("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error stopping HTTP server")
	}
	if err := scheduler.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Error stopping broadcast")
	}

	log.Info("Beacon broadcast controller shutdown complete")
	return runErr
}

// advertiseOnce programs the default beacon and exits. The controller keeps
// advertising after the process is gone.
func advertiseOnce(ctx context.Context, log logrus.FieldLogger, scheduler *broadcast.Scheduler, id ibeacon.Identity) error {
	if _, err := scheduler.Enable(ctx, id); err != nil {
		return fmt.Errorf("failed to start beacon broadcasting: %w", err)
	}
	log.WithField("beacon", id.String()).Info("Beacon advertising, exiting")
	return nil
}

func printBanner(log logrus.FieldLogger, addr string, defaultRSSI int) {
	log.Infof("Listening on http://%s", addr)
	log.Infof("  GET /beacon/enable/<uuid>/<major>/<minor>?rssi=<dBm>  (default rssi %d)", defaultRSSI)
	log.Info("  GET /beacon/disable")
	log.Info("  GET /beacon/disable/<uuid>/<major>/<minor>")
	log.Info("  GET /beacon")
	log.Info("  GET /beacon/usb, /beacon/usb/enable, /beacon/usb/disable")
	log.Info("  GET /beacon/list, POST /beacon/add, DELETE /beacon/delete/<index>")
	log.Info("  GET /api/v1/health, /api/v1/status, /api/v1/telemetry")
}
