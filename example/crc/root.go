package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zereker/nonblock"
)

const (
	modeEventLoop = "eventloop"
	modeGoroutine = "goroutine"
)

// config holds the settings shared by every subcommand. Each field can be set
// with a flag or a CRC_* environment variable, flags taking precedence.
type config struct {
	Address        string
	MetricsAddress string
	MaxSegments    int
	MaxMessageSize int64
	Mode           string
	LogLevel       string
}

func (c config) limits() nonblock.Limits {
	return nonblock.Limits{MaxSegments: c.MaxSegments, MaxMessageSize: c.MaxMessageSize}
}

func (c config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("crc")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "crc",
		Short: "CRC-32C checksum service over segment-framed messages",
		Long: `crc runs a checksum server and queries it.

Requests and responses are Cap'n Proto messages framed by a segment table.
Every flag can also be set through the environment, for example
CRC_ADDRESS=0.0.0.0:8989 or CRC_MAX_SEGMENTS=64.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("address", "a", "127.0.0.1:8989", "Address the server listens on or the client dials")
	flags.String("metrics-address", "", "Address serving prometheus metrics (disabled when empty)")
	flags.Int("max-segments", nonblock.DefaultMaxSegments, "Maximum segments accepted in one message")
	flags.Int64("max-message-size", nonblock.DefaultMaxMessageSize, "Maximum total segment bytes accepted in one message")
	flags.String("mode", modeEventLoop, "Server mode: eventloop or goroutine")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	_ = v.BindPFlags(flags)

	load := func() config {
		return config{
			Address:        v.GetString("address"),
			MetricsAddress: v.GetString("metrics-address"),
			MaxSegments:    v.GetInt("max-segments"),
			MaxMessageSize: v.GetInt64("max-message-size"),
			Mode:           v.GetString("mode"),
			LogLevel:       v.GetString("log-level"),
		}
	}

	root.AddCommand(newServerCommand(load), newChecksumCommand(load))
	return root
}
