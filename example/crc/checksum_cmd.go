package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/nonblock"
	"github.com/Zereker/nonblock/example/crc/checksum"
)

func newChecksumCommand(load func() config) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "checksum",
		Short: "Send stdin to the server and print its CRC-32C",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := load()
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			crc, err := checksum.Request(ctx, cfg.Address, data, nonblock.LimitsOption(cfg.limits()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%X\n", crc)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time allowed for the whole exchange")
	return cmd
}
