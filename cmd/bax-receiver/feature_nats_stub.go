//go:build no_nats

package main

import (
	"log/slog"

	"bax-receiver/internal/receiver"
)

type natsStopper struct{}

func (n *natsStopper) Stop() {}

func initNATS(_ *receiver.Receiver, _ *Config, _ *settings, _ string, _ *slog.Logger) *natsStopper {
	return &natsStopper{}
}
