package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZamarianPatrick/waterplant-backend/agent"
	"github.com/ZamarianPatrick/waterplant-backend/api"
	"github.com/ZamarianPatrick/waterplant-backend/config"
	"github.com/ZamarianPatrick/waterplant-backend/logging"
	"github.com/ZamarianPatrick/waterplant-backend/sensors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var settingsPath string

	rootCmd := &cobra.Command{
		Use:           "waterplant",
		Short:         "Plan scheduler and connectivity monitor for water plants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "settings.yml", "path to the settings file")

	rootCmd.AddCommand(
		serveCmd(&settingsPath),
		agentCmd(&settingsPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(settingsPath, service string) (*config.Settings, *zap.Logger, error) {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}

	log, err := logging.NewLogger(settings.Log.Level, settings.Log.Format, service)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return settings, log, nil
}

func serveCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plan scheduler API and connectivity monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup(*settingsPath, "waterplant")
			if err != nil {
				return err
			}
			defer log.Sync()

			controller, err := api.NewController(version, settings, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := controller.Close(); err != nil {
					log.Warn("closing controller failed", zap.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return controller.Run(ctx)
		},
	}
}

func agentCmd(settingsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run on the water plant: poll plans and drive the pump",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := setup(*settingsPath, "waterplant-agent")
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg := settings.Agent
			if cfg.DeviceID == "" {
				return errors.New("agent device id is required (agent.deviceID)")
			}

			station, err := sensors.OpenStation(cfg.Station, cfg.FakeSensors, cfg.SensorInterval.Std(), log.Named("sensors"))
			if err != nil {
				return fmt.Errorf("open station: %w", err)
			}
			defer station.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("agent started",
				zap.String("device_id", cfg.DeviceID),
				zap.String("server", cfg.ServerURL),
				zap.Bool("fake_sensors", cfg.FakeSensors),
			)
			client := agent.NewClient(cfg.ServerURL, cfg.DeviceID)
			return agent.New(client, station.Pump, station.Worker, cfg, log).Run(ctx)
		},
	}
}
