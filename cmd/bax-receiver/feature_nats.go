//go:build !no_nats

package main

import (
	"log/slog"

	"bax-receiver/internal/natspub"
	"bax-receiver/internal/receiver"
)

type natsStopper struct {
	pub *natspub.Publisher
}

func (n *natsStopper) Stop() {
	if n.pub != nil {
		n.pub.Stop()
	}
}

func initNATS(rcv *receiver.Receiver, cfg *Config, set *settings, instance string, logger *slog.Logger) *natsStopper {
	if !cfg.NATS.Enabled {
		return &natsStopper{}
	}
	pub, err := natspub.Connect(natspub.Config{
		URL:               cfg.NATS.URL,
		Username:          cfg.NATS.Username,
		Password:          cfg.NATS.Password,
		SubjectPrefix:     cfg.NATS.SubjectPrefix,
		Name:              "bax-receiver",
		ReconnectInterval: set.reconnectWait,
		MaxReconnects:     cfg.NATS.MaxReconnects,
	}, instance, logger)
	if err != nil {
		logger.Error("nats publisher", "err", err)
		return &natsStopper{}
	}
	pub.Start(rcv.Events())
	return &natsStopper{pub: pub}
}
