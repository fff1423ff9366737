// Package collector exposes the room snapshots as Prometheus metrics.
package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/intuis-community/intuis-monitor/internal/overrides"
	"github.com/intuis-community/intuis-monitor/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	roomTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "temperature_celsius"),
		"Current temperature of this room in degrees celsius",
		[]string{"room_name"},
		nil,
	)
	roomTargetTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "target_temp_celsius"),
		"Target temperature of this room in degrees celsius",
		[]string{"room_name"},
		nil,
	)
	roomHeating = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "heating"),
		"1 if this room is actively heating",
		[]string{"room_name"},
		nil,
	)
	roomMode = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "mode"),
		"Setpoint mode of this room. Always 1. See label 'mode'",
		[]string{"room_name", "mode"},
		nil,
	)
	roomReachable = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "reachable"),
		"1 if the room's modules are reachable",
		[]string{"room_name"},
		nil,
	)
	roomEnergy = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "energy_kwh"),
		"Energy consumed by this room today in kWh",
		[]string{"room_name"},
		nil,
	)
	roomHeatingMinutes = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "heating_minutes"),
		"Minutes this room has been heating today",
		[]string{"room_name"},
		nil,
	)
	roomOverride = prometheus.NewDesc(
		prometheus.BuildFQName("intuis", "room", "override"),
		"1 if a temporary override is active for this room. See label 'mode'",
		[]string{"room_name", "mode"},
		nil,
	)
)

// OverrideLister returns the active overrides, keyed by room id.
type OverrideLister interface {
	Overrides() map[string]overrides.Override
}

type Collector struct {
	Poller     poller.Poller
	Overrides  OverrideLister
	Logger     *slog.Logger
	lock       sync.RWMutex
	lastUpdate *poller.Update
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Poller.Subscribe()
	defer c.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.lock.Lock()
			c.lastUpdate = &update
			c.lock.Unlock()
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- roomTemperature
	ch <- roomTargetTemperature
	ch <- roomHeating
	ch <- roomMode
	ch <- roomReachable
	ch <- roomEnergy
	ch <- roomHeatingMinutes
	ch <- roomOverride
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.lastUpdate == nil {
		return
	}
	c.collectRooms(ch)
	c.collectOverrides(ch)
}

func (c *Collector) collectRooms(ch chan<- prometheus.Metric) {
	var value float64
	for _, room := range c.lastUpdate.Rooms {
		ch <- prometheus.MustNewConstMetric(roomTemperature, prometheus.GaugeValue, room.Temperature, room.Name)
		ch <- prometheus.MustNewConstMetric(roomTargetTemperature, prometheus.GaugeValue, room.TargetTemp, room.Name)
		ch <- prometheus.MustNewConstMetric(roomMode, prometheus.GaugeValue, 1, room.Name, room.Mode)
		ch <- prometheus.MustNewConstMetric(roomEnergy, prometheus.GaugeValue, room.Energy, room.Name)
		ch <- prometheus.MustNewConstMetric(roomHeatingMinutes, prometheus.GaugeValue, float64(room.Minutes), room.Name)

		value = 0.0
		if room.Heating {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(roomHeating, prometheus.GaugeValue, value, room.Name)

		value = 0.0
		if room.Reachable {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(roomReachable, prometheus.GaugeValue, value, room.Name)
	}
}

func (c *Collector) collectOverrides(ch chan<- prometheus.Metric) {
	if c.Overrides == nil {
		return
	}
	for roomID, override := range c.Overrides.Overrides() {
		room, found := c.lastUpdate.Rooms[roomID]
		if !found {
			c.Logger.Warn("override for unknown room, skipping collection", "id", roomID)
			continue
		}
		ch <- prometheus.MustNewConstMetric(roomOverride, prometheus.GaugeValue, 1, room.Name, override.Mode)
	}
}
