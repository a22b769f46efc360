//go:build no_automation

package automation

import (
	"log/slog"

	"bax-receiver/internal/receiver"
)

// Receiver is the part of the pipeline scripts can see and act on.
type Receiver interface {
	Events() *receiver.EventBus
	Devices() []receiver.Device
	Rename(address uint32, name string) (receiver.Device, error)
	Last(address uint32, offset int) (receiver.Reading, bool)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Handlers int      `json:"handlers"`
	Duration string   `json:"duration"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ Receiver, _ *Manager, _ *slog.Logger) *Engine { return &Engine{} }

// Start is a no-op.
func (e *Engine) Start() {}

// Stop is a no-op.
func (e *Engine) Stop() {}

// ReloadScript is a no-op.
func (e *Engine) ReloadScript(_ string) error { return nil }

// Running returns nil.
func (e *Engine) Running() []string { return nil }

// RunLuaCode returns a stub result.
func (e *Engine) RunLuaCode(_ string, _ receiver.Event) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
