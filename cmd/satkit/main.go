package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/logging"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/satkit"
	"github.com/tm2space/tm2-manha-firmware/internal/sensor"
)

var version = "dev"
var appName = "manha-satkit"

func main() {
	configPath := flag.String("config", "satkit.yaml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}

func run(ctx context.Context, cfg config.Config) error {
	modem, err := radio.OpenRYLR(radio.RYLRConfig{
		Port:     cfg.Radio.Port,
		BaudRate: cfg.Radio.BaudRate,
	})
	if err != nil {
		return err
	}

	link := radio.NewLink(modem, slog.Default())
	defer func() {
		if err := link.Close(); err != nil {
			slog.Error("radio close", "error", err)
		}
	}()

	if err := link.Configure(radio.Params{
		Address:         cfg.Radio.Address,
		NetworkID:       cfg.Radio.NetworkID,
		FrequencyHz:     cfg.Radio.FrequencyHz,
		SpreadingFactor: cfg.Radio.SpreadingFactor,
		Bandwidth:       cfg.Radio.Bandwidth,
		CodingRate:      cfg.Radio.CodingRate,
		Preamble:        cfg.Radio.Preamble,
		TxPowerDBm:      cfg.Radio.TxPowerDBm,
	}); err != nil {
		return err
	}

	// Register-level drivers live outside this firmware; the simulated
	// suite produces the same field set the flight sensors would.
	sensors := sensor.SimulatedSuite(rand.New(rand.NewSource(time.Now().UnixNano())))

	ctrl := satkit.New(cfg.SatKit, link, sensors, cfg.Radio.PeerAddress, slog.Default())
	err = ctrl.Run(ctx)

	stats := ctrl.Stats()
	slog.Info("satkit final stats",
		"cycles", stats.Cycles,
		"records_sent", stats.RecordsSent,
		"transmit_failures", stats.TransmitFailures,
		"commands_applied", stats.CommandsApplied,
		"fault_count", ctrl.FaultCount(),
	)
	return err
}
