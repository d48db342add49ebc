//go:build !linux

package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Zereker/nonblock"
	"github.com/Zereker/nonblock/example/crc/checksum"
	"github.com/Zereker/nonblock/metrics"
)

func serveEventLoop(context.Context, config, *checksum.Service, *metrics.Metrics, nonblock.Logger) error {
	return errors.Errorf("mode %s is only supported on linux, use --mode %s", modeEventLoop, modeGoroutine)
}
