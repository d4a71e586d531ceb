package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tm2space/tm2-manha-firmware/internal/command"
	"github.com/tm2space/tm2-manha-firmware/internal/config"
	"github.com/tm2space/tm2-manha-firmware/internal/ground"
	"github.com/tm2space/tm2-manha-firmware/internal/ground/sink"
	"github.com/tm2space/tm2-manha-firmware/internal/logging"
	"github.com/tm2space/tm2-manha-firmware/internal/radio"
	"github.com/tm2space/tm2-manha-firmware/internal/store"
)

var version = "dev"
var appName = "manha-groundstation"

func main() {
	configPath := flag.String("config", "groundstation.yaml", "path to the node configuration file")
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

	var sinks []sink.Sink

	var mqttSink *sink.MQTT
	if cfg.Ground.MQTT.Enabled {
		mqttSink = sink.NewMQTT(cfg.Ground.MQTT, slog.Default())
		// Short timeout so a down broker does not block startup; the
		// client keeps retrying in the background and the command
		// subscription below attaches whenever the session comes up.
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := mqttSink.Connect(connectCtx)
		cancel()
		if err != nil {
			slog.Warn("mqtt not connected yet (continuing, will keep retrying)", "error", err)
		}
		sinks = append(sinks, mqttSink)
		defer func() {
			if err := mqttSink.Close(); err != nil {
				slog.Error("mqtt close", "error", err)
			}
		}()
	}

	if cfg.Ground.Store.Enabled {
		st, err := store.Open(cfg.Ground.Store.Path)
		if err != nil {
			return err
		}
		sinks = append(sinks, st)
		defer func() {
			if err := st.Close(); err != nil {
				slog.Error("store close", "error", err)
			}
		}()
		slog.Info("telemetry store open", "path", cfg.Ground.Store.Path)
	}

	if cfg.Ground.Influx.Enabled {
		ifx := sink.NewInflux(cfg.Ground.Influx)
		sinks = append(sinks, ifx)
		defer func() {
			if err := ifx.Close(); err != nil {
				slog.Error("influx close", "error", err)
			}
		}()
		slog.Info("influx sink enabled", "url", cfg.Ground.Influx.URL, "bucket", cfg.Ground.Influx.Bucket)
	}

	ctrl := ground.New(cfg.Ground, link, sinks, cfg.Radio.PeerAddress, slog.Default())

	if mqttSink != nil {
		err := mqttSink.SubscribeCommands(func(cmd command.Command) {
			if err := ctrl.SubmitCommand(cmd); err != nil {
				slog.Warn("dropping operator command", "command", cmd.Kind, "error", err)
			}
		})
		if err != nil {
			slog.Warn("command subscription failed", "error", err)
		}
	}

	err = ctrl.Run(ctx)

	stats := ctrl.Stats()
	slog.Info("ground station final stats",
		"packets_ok", stats.PacketsOK,
		"checksum_errors", stats.ChecksumErrors,
		"records_published", stats.RecordsPublished,
		"commands_sent", stats.CommandsSent,
		"fault_count", ctrl.FaultCount(),
	)
	return err
}
