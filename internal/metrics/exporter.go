// Package metrics exports receiver counters and the latest sensor readings
// as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bax-receiver/internal/receiver"
)

// Source is what the exporter reads at scrape time.
type Source interface {
	Stats() receiver.Stats
	Devices() []receiver.Device
}

// Exporter collects receiver stats and exports them as Prometheus metrics
type Exporter struct {
	src Source
	mu  sync.Mutex

	unitsTotal     *prometheus.GaugeVec
	malformedTotal prometheus.Gauge
	dataNumber     prometheus.Gauge
	devices        prometheus.Gauge
	capacity       prometheus.Gauge
	radioUp        prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	deviceTemperature *prometheus.GaugeVec
	deviceHumidity    *prometheus.GaugeVec
	deviceBattery     *prometheus.GaugeVec
	deviceRSSI        *prometheus.GaugeVec
	deviceLastSeen    *prometheus.GaugeVec
}

// NewExporter creates a new Prometheus exporter
func NewExporter(src Source) *Exporter {
	deviceLabels := []string{"address", "name"}
	return &Exporter{
		src: src,

		unitsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bax_units_total",
				Help: "Units handled by the receiver, by codec outcome",
			},
			[]string{"outcome"},
		),
		malformedTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_malformed_frames_total",
			Help: "Input frames that could not be decoded",
		}),
		dataNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_data_number",
			Help: "Data number of the last forwarded unit",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_devices",
			Help: "Devices in the device table",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_device_capacity",
			Help: "Size of the device table",
		}),
		radioUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_radio_up",
			Help: "1 unless the radio reports a hardware error",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bax_uptime_seconds",
			Help: "Receiver uptime in seconds",
		}),

		deviceTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bax_device_temperature_celsius",
			Help: "Last temperature reported by the device",
		}, deviceLabels),
		deviceHumidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bax_device_humidity_percent",
			Help: "Last relative humidity reported by the device",
		}, deviceLabels),
		deviceBattery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bax_device_battery_millivolts",
			Help: "Last battery voltage reported by the device",
		}, deviceLabels),
		deviceRSSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bax_device_rssi_dbm",
			Help: "Signal strength of the last packet from the device",
		}, deviceLabels),
		deviceLastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bax_device_last_seen_timestamp_seconds",
			Help: "Time of the last packet from the device",
		}, deviceLabels),
	}
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	e.unitsTotal.Describe(ch)
	e.malformedTotal.Describe(ch)
	e.dataNumber.Describe(ch)
	e.devices.Describe(ch)
	e.capacity.Describe(ch)
	e.radioUp.Describe(ch)
	e.uptimeSeconds.Describe(ch)

	e.deviceTemperature.Describe(ch)
	e.deviceHumidity.Describe(ch)
	e.deviceBattery.Describe(ch)
	e.deviceRSSI.Describe(ch)
	e.deviceLastSeen.Describe(ch)
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Devices come and go with eviction.
	e.unitsTotal.Reset()
	e.deviceTemperature.Reset()
	e.deviceHumidity.Reset()
	e.deviceBattery.Reset()
	e.deviceRSSI.Reset()
	e.deviceLastSeen.Reset()

	st := e.src.Stats()
	for outcome, n := range st.Outcomes {
		e.unitsTotal.WithLabelValues(outcome).Set(float64(n))
	}
	e.malformedTotal.Set(float64(st.Malformed))
	e.dataNumber.Set(float64(st.DataNumber))
	e.devices.Set(float64(st.Devices))
	e.capacity.Set(float64(st.Capacity))
	if st.RadioState == "hw_error" {
		e.radioUp.Set(0)
	} else {
		e.radioUp.Set(1)
	}
	e.uptimeSeconds.Set(time.Since(st.Started).Seconds())

	for _, dev := range e.src.Devices() {
		if len(dev.History) == 0 {
			continue
		}
		name := dev.Name
		if name == "" {
			name = dev.Address
		}
		last := dev.History[0]
		e.deviceRSSI.WithLabelValues(dev.Address, name).Set(float64(last.RSSI))
		e.deviceLastSeen.WithLabelValues(dev.Address, name).Set(float64(last.Time.Unix()))
		if last.Sensor != nil {
			e.deviceTemperature.WithLabelValues(dev.Address, name).Set(*last.Temperature)
			e.deviceHumidity.WithLabelValues(dev.Address, name).Set(*last.Humidity)
			e.deviceBattery.WithLabelValues(dev.Address, name).Set(float64(last.Sensor.BatteryMV))
		}
	}

	e.unitsTotal.Collect(ch)
	e.malformedTotal.Collect(ch)
	e.dataNumber.Collect(ch)
	e.devices.Collect(ch)
	e.capacity.Collect(ch)
	e.radioUp.Collect(ch)
	e.uptimeSeconds.Collect(ch)

	e.deviceTemperature.Collect(ch)
	e.deviceHumidity.Collect(ch)
	e.deviceBattery.Collect(ch)
	e.deviceRSSI.Collect(ch)
	e.deviceLastSeen.Collect(ch)
}

// Handler returns an HTTP handler serving src on a private registry.
func Handler(src Source) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewExporter(src))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
