// Package testutils builds poll snapshots for tests.
package testutils

import (
	"github.com/intuis-community/intuis-monitor/internal/poller"
)

func Update(options ...UpdateOption) poller.Update {
	u := poller.Update{Rooms: make(poller.Rooms)}
	for _, option := range options {
		option(&u)
	}
	return u
}

type UpdateOption func(*poller.Update)

func WithHome(id, name, timezone string) UpdateOption {
	return func(u *poller.Update) {
		u.Home = poller.HomeInfo{ID: id, Name: name, Timezone: timezone}
	}
}

func WithRoom(id, name, mode string, temperature, target float64, options ...RoomOption) UpdateOption {
	return func(u *poller.Update) {
		room := poller.RoomSnapshot{
			ID:          id,
			Name:        name,
			Mode:        mode,
			Temperature: temperature,
			TargetTemp:  target,
			Reachable:   true,
		}
		for _, option := range options {
			option(&room)
		}
		u.Rooms[id] = room
	}
}

type RoomOption func(*poller.RoomSnapshot)

func WithHeating(minutes int) RoomOption {
	return func(r *poller.RoomSnapshot) {
		r.Heating = true
		r.Minutes = minutes
	}
}

func WithEnergy(kwh float64) RoomOption {
	return func(r *poller.RoomSnapshot) {
		r.Energy = kwh
	}
}

func WithBridge(bridgeID string) RoomOption {
	return func(r *poller.RoomSnapshot) {
		r.BridgeID = bridgeID
	}
}
