//go:build no_mqtt

package main

import (
	"log/slog"

	"bax-receiver/internal/receiver"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *receiver.Receiver, _ *Config, _ string, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
