package main

import (
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/peripheral"
	"github.com/srg/blex/stack"
	"github.com/srg/blex/stack/memstack"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

const (
	imuServiceUUID     = gatt.UUID("8e7c1001-d2f3-4d4b-8c1d-2f6a1b3e5a10")
	imuMeasurementUUID = gatt.UUID("8e7c1002-d2f3-4d4b-8c1d-2f6a1b3e5a10")
	imuSampleRateUUID  = gatt.UUID("8e7c1003-d2f3-4d4b-8c1d-2f6a1b3e5a10")

	defaultSampleRateHz = 50
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish the GATT profile and stream data",
	Long: `Bring up the peripheral: register the profile's services, start
advertising and serve reads, writes and subscriptions until interrupted.

With --sim the peripheral runs against an in-memory stack instead of the
radio, which is useful for exercising the profile on a machine without a
BLE adapter.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("profile", "", "Path to a profile YAML (default: embedded IMU profile)")
	serveCmd.Flags().Bool("sim", false, "Use the in-memory stack instead of the radio")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	profilePath, _ := cmd.Flags().GetString("profile")
	profile, err := loadServeProfile(profilePath)
	if err != nil {
		return err
	}

	sim, _ := cmd.Flags().GetBool("sim")
	st, err := selectStack(logger, sim)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sampler := attachIMUHandlers(logger, profile)

	ctrl, err := peripheral.New(peripheral.Options{
		Logger:  logger,
		Stack:   st,
		Profile: profile,
	})
	if err != nil {
		return err
	}

	ctrl.OnConnection(func(ev peripheral.ConnectionEvent) {
		switch ev.Kind {
		case peripheral.EventConnect:
			color.Green("connected: %s (conn %d)", ev.Peer, ev.ConnHandle)
		case peripheral.EventDisconnect:
			color.Yellow("disconnected: %s (reason 0x%02x)", ev.Peer, ev.Reason)
		case peripheral.EventMTUChanged:
			color.Cyan("mtu changed: %s -> %d", ev.Peer, ev.MTU)
		}
	})

	if err := ctrl.Init(ctx); err != nil {
		return fmt.Errorf("peripheral init failed: %w", err)
	}

	if sampler != nil {
		sampler.Run(ctx,
			func(rec []byte) error {
				return ctrl.SetValue(imuServiceUUID, imuMeasurementUUID, rec)
			},
			func() bool {
				subscribed, err := ctrl.IsSubscribed(imuServiceUUID, imuMeasurementUUID)
				return err == nil && subscribed
			})
	}

	printStatus(profile, sim)

	<-ctx.Done()
	fmt.Fprintln(os.Stderr)
	logger.Info("shutting down")
	return nil
}

func loadServeProfile(path string) (*gatt.Profile, error) {
	if path == "" {
		return gatt.ParseProfile(defaultProfileYAML)
	}
	return gatt.LoadProfile(path)
}

func selectStack(logger *logrus.Logger, sim bool) (stack.Stack, error) {
	if sim {
		return memstack.New(memstack.Options{Logger: logger}), nil
	}
	return newRadioStack(logger)
}

// attachIMUHandlers wires the sampler into the profile when the embedded
// IMU service is present. Custom profiles run handler-free: reads serve
// stored values and writes are accepted but unobserved.
func attachIMUHandlers(logger *logrus.Logger, profile *gatt.Profile) *imuSampler {
	measurement := profile.Characteristic(imuServiceUUID, imuMeasurementUUID)
	if measurement == nil {
		return nil
	}
	sampler := newIMUSampler(logger, defaultSampleRateHz)
	measurement.OnRead = sampler.Latest

	if rate := profile.Characteristic(imuServiceUUID, imuSampleRateUUID); rate != nil {
		rate.OnRead = sampler.ReadRate
		rate.OnWrite = sampler.WriteRate
	}
	return sampler
}

func printStatus(profile *gatt.Profile, sim bool) {
	mode := "radio"
	if sim {
		mode = "simulated"
	}
	color.New(color.Bold).Printf("%s %s\n", rootCmd.Use, formatVersion(version))
	fmt.Printf("  device:   %s\n", profile.DeviceName)
	fmt.Printf("  backend:  %s\n", mode)
	fmt.Printf("  services: %d\n", len(profile.Services))
	fmt.Println("advertising, press Ctrl+C to stop")
}
