package receiver

import (
	"errors"
	"log/slog"

	"bax-receiver/internal/store"
)

// SnapshotSink returns a handler that keeps a persisted snapshot of every
// device that sends packets, including devices without a stored key.
func SnapshotSink(st store.Store, logger *slog.Logger) EventHandler {
	return func(e Event) {
		switch e.Type {
		case EventPacket:
			ev, ok := e.Data.(PacketEvent)
			if !ok {
				return
			}
			if err := saveSnapshot(st, ev); err != nil {
				logger.Error("snapshot update failed", "address", ev.Address, "err", err)
			}
		case EventDeviceRenamed:
			de, ok := e.Data.(DeviceEvent)
			if !ok {
				return
			}
			err := st.UpdateDevice(de.Address, func(d *store.Device) error {
				d.Name = de.Name
				return nil
			})
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				logger.Error("snapshot rename failed", "address", de.Address, "err", err)
			}
		}
	}
}

func saveSnapshot(st store.Store, ev PacketEvent) error {
	apply := func(d *store.Device) error {
		d.LastSeen = ev.Time
		d.LastType = ev.Type
		d.RSSI = ev.RSSI
		d.Packets++
		if ev.Name != "" {
			d.Name = ev.Name
		}
		if ev.Sensor != nil {
			d.Properties = map[string]any{
				"battery_mv":   ev.Sensor.BatteryMV,
				"humidity":     *ev.Humidity,
				"temperature":  *ev.Temp,
				"light_lux":    ev.Sensor.LightLux,
				"pir_counts":   ev.Sensor.PIRCounts,
				"pir_energy":   ev.Sensor.PIREnergy,
				"switch":       ev.Sensor.SwitchCount,
				"tx_power_dbm": ev.Sensor.TxPowerDBm,
			}
		}
		return nil
	}

	err := st.UpdateDevice(ev.Address, apply)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	dev := &store.Device{Address: ev.Address, FirstSeen: ev.Time}
	apply(dev)
	return st.SaveDevice(dev)
}
