// Package observer runs the Orb's background telemetry broker: a second,
// fenceless broker instance alongside the main capture broker, owning only
// sensor agents (internal temperature, network monitor) and the MCU link's
// broadcast telemetry, feeding the fan controller and LED engine.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbagent/core/internal/broker"
	"github.com/orbagent/core/internal/mculink"
	"github.com/orbagent/core/internal/port"
)

// InternalTemperature is one reading from the host's own thermal sensors,
// independent of anything reported by the MCU.
type InternalTemperature struct {
	CPU, GPU, SSD int16 // degrees Celsius
	IssuedAt      time.Time
}

// NetworkReport is one sample from the network monitor agent.
type NetworkReport struct {
	RSSI        int
	Lag         time.Duration
	SSID        string
	NoInternet  bool
	NoWLAN      bool
	IssuedAt    time.Time
}

// FanController is the narrow interface Observer needs to drive cooling;
// the real implementation talks to the MCU link, but Observer doesn't need
// to know that.
type FanController interface {
	SetSpeed(percent float64) error
}

// LEDEngine is the narrow interface Observer needs to reflect telemetry as
// visual feedback. A production implementation drives the LED ring agent;
// tests and headless runs can use a no-op.
type LEDEngine interface {
	BatteryCapacity(percent uint8)
	BatteryCharging(charging bool)
	NetworkGood()
	NetworkSlow()
	NetworkNone()
	Button(pressed bool)
}

// Observer owns the fenceless telemetry broker. Unlike the main broker, its
// cells never need a fence check: telemetry is always current, there is no
// notion of a stale reading belonging to a previous capture session.
type Observer struct {
	broker *broker.Broker

	internalTemp *broker.Cell[InternalTemperature]
	netMonitor   *broker.Cell[NetworkReport]

	mcu         *mculink.Link
	mcuTelem    <-chan mculink.Frame
	unsubscribe func()
	fan         FanController
	led         LEDEngine

	lastFanMaxSpeed float64
	maxFanSpeed     func() float64

	battNotChargingStreak int
	gpsReassembler        mculink.GPSReassembler
}

// Config bundles Observer's fixed dependencies.
type Config struct {
	MCU         *mculink.Link
	Fan         FanController
	LED         LEDEngine
	MaxFanSpeed func() float64 // reread on every fan update, reflects live config overlay
}

// New builds an Observer with its internal-temperature and network-monitor
// cells vacant; call EnableInternalTemp/EnableNetMonitor to start them.
func New(cfg Config) *Observer {
	o := &Observer{
		internalTemp: broker.NewCell[InternalTemperature](),
		netMonitor:   broker.NewCell[NetworkReport](),
		mcu:          cfg.MCU,
		fan:          cfg.Fan,
		led:          cfg.LED,
		maxFanSpeed:  cfg.MaxFanSpeed,
	}
	if cfg.MCU != nil {
		o.mcuTelem, o.unsubscribe = cfg.MCU.Subscribe(32)
	}
	o.broker = broker.New([]broker.Entry{
		{Name: "internal_temperature", Poll: o.pollInternalTemp},
		{Name: "net_monitor", Poll: o.pollNetMonitor},
	})
	o.broker.Extra = o.pollMCUTelemetry
	return o
}

// EnableInternalTemp wires a running internal-temperature sensor's output
// port into the broker.
func (o *Observer) EnableInternalTemp(outputs *port.Port[InternalTemperature]) error {
	return o.internalTemp.Enable(nil, outputs)
}

// EnableNetMonitor wires a running network-monitor agent's output port into
// the broker.
func (o *Observer) EnableNetMonitor(outputs *port.Port[NetworkReport]) error {
	return o.netMonitor.Enable(nil, outputs)
}

// Run drives the telemetry broker until ctx is canceled or a fatal error
// occurs. It has no fence and no Plan: telemetry handling is fixed, unlike
// the main broker's pluggable capture logic.
func (o *Observer) Run(ctx context.Context) error {
	return o.broker.Run(ctx)
}

func (o *Observer) pollInternalTemp(fence broker.Fence) (broker.Flow, error) {
	return broker.PollCell(o.internalTemp, fence,
		func(t InternalTemperature) (broker.Flow, error) {
			o.applyInternalTemp(t)
			return broker.Continue, nil
		})
}

func (o *Observer) pollNetMonitor(fence broker.Fence) (broker.Flow, error) {
	return broker.PollCell(o.netMonitor, fence,
		func(r NetworkReport) (broker.Flow, error) {
			o.applyNetworkReport(r)
			return broker.Continue, nil
		})
}

func (o *Observer) applyInternalTemp(t InternalTemperature) {
	slog.Debug("observer: internal temperature", "cpu", t.CPU, "gpu", t.GPU, "ssd", t.SSD)
	o.driveFanFromTemp(t)
}

// driveFanFromTemp computes a fan duty cycle from the hotter of CPU/GPU,
// clamped to the configured maximum; measured fan RPM (reported
// separately via MCU telemetry) never feeds back into this calculation.
func (o *Observer) driveFanFromTemp(t InternalTemperature) {
	if o.fan == nil {
		return
	}
	hot := t.CPU
	if t.GPU > hot {
		hot = t.GPU
	}
	maxSpeed := 100.0
	if o.maxFanSpeed != nil {
		maxSpeed = o.maxFanSpeed()
	}
	o.lastFanMaxSpeed = maxSpeed

	const (
		fanStartTemp = 45.0 // below this, fan idles at minimum
		fanMaxTemp   = 75.0 // at or above this, fan runs at maxSpeed
	)
	ratio := (float64(hot) - fanStartTemp) / (fanMaxTemp - fanStartTemp)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	speed := ratio * maxSpeed
	if speed < 1 {
		speed = 1
	}
	if err := o.fan.SetSpeed(speed); err != nil {
		slog.Error("observer: set fan speed", "error", err)
	}
}

func (o *Observer) applyNetworkReport(r NetworkReport) {
	if o.led == nil {
		return
	}
	switch {
	case r.NoInternet:
		o.led.NetworkNone()
	case r.Lag > 300*time.Millisecond:
		o.led.NetworkSlow()
	default:
		o.led.NetworkGood()
	}
}

// pollMCUTelemetry drains whatever is currently buffered on the MCU link's
// broadcast subscription, which stays open for the Observer's entire
// lifetime. It runs as the broker's Extra hook rather than a Cell since
// the link already fans out telemetry over its own channel rather than an
// agent port.
func (o *Observer) pollMCUTelemetry(fence broker.Fence) (broker.Flow, error) {
	if o.mcuTelem == nil {
		return broker.Continue, nil
	}
	for {
		select {
		case frame, ok := <-o.mcuTelem:
			if !ok {
				o.mcuTelem = nil
				return broker.Continue, nil
			}
			if err := o.handleMCUFrame(frame); err != nil {
				return broker.Continue, fmt.Errorf("observer: mcu telemetry: %w", err)
			}
		default:
			return broker.Continue, nil
		}
	}
}

// Close releases the Observer's MCU broadcast subscription.
func (o *Observer) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Observer) handleMCUFrame(f mculink.Frame) error {
	decoded, err := mculink.DecodeTelemetry(f)
	if err != nil {
		var unknown mculink.ErrUnknownTelemetry
		if errors.As(err, &unknown) {
			slog.Warn("observer: unrecognized MCU telemetry kind", "error", err)
			return nil
		}
		return err
	}

	switch v := decoded.(type) {
	case mculink.Battery:
		if o.led != nil {
			o.led.BatteryCapacity(v.PercentCharge)
		}
		o.applyBatteryCharging(v.IsCharging)
	case mculink.Button:
		if o.led != nil {
			o.led.Button(v.Pressed)
		}
	case mculink.FanStatus:
		slog.Debug("observer: fan status", "fan_id", v.FanID, "measured_rpm", v.MeasuredSpeed)
	case mculink.Temperature:
		slog.Debug("observer: mcu temperature", "source", v.Source, "centidegree", v.Centidegree)
	case mculink.GPSFragment:
		o.handleGPSFragment(v)
	}
	return nil
}

// handleGPSFragment feeds a two-part NMEA fragment into the observer's
// reassembler and, once a full sentence has been joined, parses it into a
// GPSFix. A fragment pair that reassembles into an unparseable sentence is
// logged and dropped rather than propagated.
func (o *Observer) handleGPSFragment(frag mculink.GPSFragment) {
	sentence, complete := o.gpsReassembler.Feed(frag)
	if !complete {
		return
	}
	fix, err := mculink.ParseGPSFix(sentence)
	if err != nil {
		slog.Warn("observer: dropping malformed GPS sentence", "error", err)
		return
	}
	slog.Debug("observer: gps fix", "lat_e7", fix.LatitudeE7, "lon_e7", fix.LongitudeE7, "satellites", fix.SatelliteCount)
}

// applyBatteryCharging debounces the MCU's raw is-charging signal: the
// firmware's reading flickers across a charge/discharge boundary, so
// not-charging is only reported after 8 consecutive not-charging readings,
// while a single charging reading reports charging again at once.
func (o *Observer) applyBatteryCharging(reportedCharging bool) {
	if reportedCharging {
		o.battNotChargingStreak = 0
	} else {
		o.battNotChargingStreak++
	}
	charging := o.battNotChargingStreak < 8
	if o.led != nil {
		o.led.BatteryCharging(charging)
	}
}

