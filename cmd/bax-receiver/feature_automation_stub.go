//go:build no_automation

package main

import (
	"errors"
	"log/slog"

	"bax-receiver/internal/automation"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ automation.Receiver, _ *Config, _ *slog.Logger) *autoStopper {
	return &autoStopper{}
}

func cmdCheckScript(_ []string) error {
	return errors.New("built without automation support")
}
