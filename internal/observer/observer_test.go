package observer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/mculink"
	"github.com/orbagent/core/internal/observer"
	"github.com/orbagent/core/internal/port"
)

type fakeFan struct{ lastSpeed float64 }

func (f *fakeFan) SetSpeed(percent float64) error {
	f.lastSpeed = percent
	return nil
}

type fakeLED struct {
	batteryPercent uint8
	charging       bool
	network        string
}

func (l *fakeLED) BatteryCapacity(percent uint8) { l.batteryPercent = percent }
func (l *fakeLED) BatteryCharging(charging bool)  { l.charging = charging }
func (l *fakeLED) NetworkGood()                   { l.network = "good" }
func (l *fakeLED) NetworkSlow()                   { l.network = "slow" }
func (l *fakeLED) NetworkNone()                   { l.network = "none" }
func (l *fakeLED) Button(pressed bool)            {}

func TestObserverDrivesFanFromTemperature(t *testing.T) {
	fan := &fakeFan{}
	outputs := port.New[observer.InternalTemperature](1)

	o := observer.New(observer.Config{Fan: fan, MaxFanSpeed: func() float64 { return 100 }})
	require.NoError(t, o.EnableInternalTemp(outputs))

	require.NoError(t, outputs.TrySend(port.NewEnvelope(observer.InternalTemperature{CPU: 80, GPU: 40, IssuedAt: time.Now()})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	assert.Greater(t, fan.lastSpeed, 0.0)
}

func TestObserverAppliesNetworkReportToLED(t *testing.T) {
	led := &fakeLED{}
	outputs := port.New[observer.NetworkReport](1)

	o := observer.New(observer.Config{LED: led})
	require.NoError(t, o.EnableNetMonitor(outputs))

	require.NoError(t, outputs.TrySend(port.NewEnvelope(observer.NetworkReport{NoInternet: true, IssuedAt: time.Now()})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	assert.Equal(t, "none", led.network)
}

func TestObserverDebouncesBatteryCharging(t *testing.T) {
	led := &fakeLED{}
	fan := &fakeFan{}
	transport := newLoopbackTransport()
	link := mculink.New(transport)
	defer link.Close()

	o := observer.New(observer.Config{MCU: link, Fan: fan, LED: led})
	defer o.Close()

	for i := 0; i < 8; i++ {
		transport.deliverBroadcast(t, mculink.Frame{
			Type:    mculink.MessageTypeBroadcast,
			Payload: append([]byte{byte(mculink.TelemetryBattery)}, 50, 0),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = o.Run(ctx)

	assert.False(t, led.charging)
}
