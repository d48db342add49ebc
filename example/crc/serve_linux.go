package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Zereker/nonblock"
	"github.com/Zereker/nonblock/eventloop"
	"github.com/Zereker/nonblock/example/crc/checksum"
	"github.com/Zereker/nonblock/metrics"
)

func serveEventLoop(ctx context.Context, cfg config, svc *checksum.Service, m *metrics.Metrics, logger nonblock.Logger) error {
	l, err := eventloop.Listen(cfg.Address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Address)
	}

	server, err := eventloop.NewServer(l, eventloop.HandlerFunc(func(s *eventloop.Session, message *nonblock.Message) error {
		response, err := svc.Respond(message)
		if err != nil {
			return err
		}
		return s.Send(response)
	}),
		eventloop.LoggerOption(logger),
		eventloop.MetricsOption(m),
		eventloop.StreamOption(nonblock.LimitsOption(cfg.limits())),
	)
	if err != nil {
		l.Close()
		return err
	}
	return server.Serve(ctx)
}
