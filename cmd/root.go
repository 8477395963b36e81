// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
	"github.com/Thermoquad/fwlift/pkg/link"
	"github.com/Thermoquad/fwlift/pkg/log"
)

// Link modes
const (
	linkAuto    = "auto"
	linkConsole = "console"
	linkOTA     = "ota"
)

var (
	cfgFile string
	logOpts = log.NewOptions()
	config  = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "fwlift",
	Short: "Firmware upload console",
	Long: `fwlift - Query and upload firmware images on Thermoquad devices.

Two upload protocols are supported. Text consoles use a CRC-gated handshake
with windowed 16-byte chunks. Devices with structured OTA channels get a
streamed push that completes when the device announces its reboot.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  MQTT:      --mqtt-broker tcp://host:1883 --mqtt-device ID

Every flag can also be set in the config file (--config, default
$HOME/.config/fwlift/config.yaml) or as an FWLIFT_ environment variable,
e.g. FWLIFT_PORT or FWLIFT_LOG_LEVEL.

For WebSocket and MQTT authentication, the password is read from the
FWLIFT_PASSWORD environment variable, or prompted interactively if not set.

Exit codes:
  0 - Success
  1 - Upload or version request failed
  2 - Connection error`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(config, cmd.Root().PersistentFlags(), cfgFile); err != nil {
			return err
		}
		applyLogOptions(config, logOpts)
		if err := log.Init(logOpts); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Std().Sync()
	},
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.config/fwlift/config.yaml)")
	addConnectionFlags(fs)
	logOpts.AddFlags(fs)
}

func addConnectionFlags(fs *pflag.FlagSet) {
	// Serial connection flags
	fs.StringP("port", "p", "", "Serial port device")
	fs.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	fs.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	fs.String("username", "", "Username for HTTP Basic auth or the MQTT broker")
	fs.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// and mqtts:// only)")

	// MQTT connection flags
	fs.String("mqtt-broker", "", "MQTT broker URL (tcp://, ssl://, ws:// or wss://)")
	fs.String("mqtt-device", "", "Device ID used in the MQTT topic prefix")
	fs.String("mqtt-prefix", "", "MQTT topic prefix (default fwlift/<device>)")

	// Protocol tuning
	fs.String("link", linkAuto, "Device link: auto, console or ota")
	fs.Duration("watchdog", fwupgrade.DefaultWatchdogTimeout, "Handshake upload watchdog")
	fs.Duration("reboot-timeout", fwupgrade.DefaultRebootTimeout, "How long to wait for the device reboot after a push upload")
	fs.Duration("ack-timeout", link.DefaultAckTimeout, "How long to wait for each OTA chunk ack")
}

// loadConfig binds fs into v and reads the config file. An explicit file
// must exist; the default one is optional.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, file string) error {
	if err := v.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix("FWLIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".config", "fwlift", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

func applyLogOptions(v *viper.Viper, o *log.Options) {
	o.Level = v.GetString("log.level")
	o.Format = v.GetString("log.format")
	o.EnableColor = v.GetBool("log.enable-color")
	o.DisableCaller = v.GetBool("log.disable-caller")
	o.OutputPaths = v.GetStringSlice("log.output-paths")
}

// settings is the resolved connection configuration.
type settings struct {
	Port string
	Baud int

	URL         string
	Username    string
	NoSSLVerify bool

	MQTTBroker string
	MQTTDevice string
	MQTTPrefix string

	Link          string
	Watchdog      time.Duration
	RebootTimeout time.Duration
	AckTimeout    time.Duration
}

func settingsFrom(v *viper.Viper) (settings, error) {
	s := settings{
		Port:          v.GetString("port"),
		Baud:          v.GetInt("baud"),
		URL:           v.GetString("url"),
		Username:      v.GetString("username"),
		NoSSLVerify:   v.GetBool("no-ssl-verify"),
		MQTTBroker:    v.GetString("mqtt-broker"),
		MQTTDevice:    v.GetString("mqtt-device"),
		MQTTPrefix:    v.GetString("mqtt-prefix"),
		Link:          strings.ToLower(v.GetString("link")),
		Watchdog:      v.GetDuration("watchdog"),
		RebootTimeout: v.GetDuration("reboot-timeout"),
		AckTimeout:    v.GetDuration("ack-timeout"),
	}

	switch s.Link {
	case linkAuto, linkConsole, linkOTA:
	default:
		return s, fmt.Errorf("invalid --link %q (use auto, console or ota)", s.Link)
	}
	if s.Link == linkConsole && s.MQTTBroker != "" {
		return s, errors.New("MQTT only carries the OTA link")
	}
	return s, nil
}

// coreOptions returns the upload console options for s.
func coreOptions(s settings) []fwupgrade.Option {
	return []fwupgrade.Option{
		fwupgrade.WithLogger(log.Std().WithName("fwupgrade")),
		fwupgrade.WithWatchdogTimeout(s.Watchdog),
		fwupgrade.WithRebootTimeout(s.RebootTimeout),
	}
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func connectionError(err error) error {
	return &exitError{code: 2, err: err}
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
