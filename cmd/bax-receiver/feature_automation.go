//go:build !no_automation

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bax-receiver/internal/automation"
	"bax-receiver/internal/receiver"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func initAutomation(rcv automation.Receiver, cfg *Config, logger *slog.Logger) *autoStopper {
	mgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}
	}
	engine := automation.NewEngine(rcv, mgr, logger)
	engine.Start()
	return &autoStopper{engine: engine}
}

// cmdCheckScript runs a script once against a sample packet without a
// receiver: bax-receiver check-script <file.lua> [packet.json].
func cmdCheckScript(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: bax-receiver check-script <file.lua> [packet.json]")
	}
	code, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	sample := receiver.PacketEvent{Address: "00000001", TypeName: "sensor", Outcome: "decrypted"}
	if len(args) == 2 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &sample); err != nil {
			return fmt.Errorf("parse sample packet: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	engine := automation.NewEngine(offlineReceiver{bus: receiver.NewEventBus(logger)}, nil, logger)
	res := engine.RunLuaCode(string(code), receiver.Event{Type: receiver.EventPacket, Data: sample})
	for _, line := range res.Logs {
		fmt.Println(line)
	}
	fmt.Printf("handlers called: %d, duration: %s\n", res.Handlers, res.Duration)
	if !res.OK {
		return errors.New(res.Error)
	}
	return nil
}

// offlineReceiver stands in for the pipeline when checking a script.
type offlineReceiver struct {
	bus *receiver.EventBus
}

func (o offlineReceiver) Events() *receiver.EventBus { return o.bus }

func (offlineReceiver) Devices() []receiver.Device { return nil }

func (offlineReceiver) Rename(address uint32, name string) (receiver.Device, error) {
	return receiver.Device{}, receiver.ErrUnknownDevice
}

func (offlineReceiver) Last(address uint32, offset int) (receiver.Reading, bool) {
	return receiver.Reading{}, false
}
