package poller

import (
	"log/slog"
	"strings"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/intuis-community/intuis-monitor/internal/intuis"
)

// Module types reported by the cloud backend. Radiator modules carry a
// radiator_state; gateways bridge the radiators onto the network.
const (
	moduleTypeRadiator = "NMH"
	moduleTypeGateway  = "NMG"
)

type moduleKind int

const (
	moduleThermostat moduleKind = iota
	moduleRelay
	moduleOther
)

func kindOfModule(moduleType string) moduleKind {
	switch moduleType {
	case moduleTypeRadiator:
		return moduleThermostat
	case moduleTypeGateway:
		return moduleRelay
	default:
		return moduleOther
	}
}

type module struct {
	id            string
	kind          moduleKind
	bridge        string
	radiatorState string
	reachable     bool
}

// extractModules converts the raw module list, skipping malformed entries.
func extractModules(status intuis.HomeStatus, logger *slog.Logger) []module {
	modules := make([]module, 0, len(status.Modules))
	for _, m := range status.Modules {
		if m.ID == "" || m.Type == "" {
			logger.Warn("skipping malformed module", slog.String("id", m.ID), slog.String("type", m.Type))
			continue
		}
		modules = append(modules, module{
			id:            m.ID,
			kind:          kindOfModule(m.Type),
			bridge:        m.Bridge,
			radiatorState: m.RadiatorState,
			reachable:     m.Reachable,
		})
	}
	return modules
}

// mapRooms builds the per-room snapshots from the live home status and the
// room layout, and advances the heating-minutes counters.
func (p *IntuisPoller) mapRooms(status intuis.HomeStatus, modules []module, now time.Time) Rooms {
	rooms := make(Rooms, len(status.Rooms))
	for _, room := range status.Rooms {
		layout, ok := p.layout(room.ID)
		if !ok {
			p.logger.Warn("skipping room not present in home layout", slog.String("id", room.ID))
			continue
		}
		roomModules := filterModules(modules, set.New(layout.ModuleIDs...))

		snapshot := RoomSnapshot{
			ID:          room.ID,
			Name:        layout.Name,
			Mode:        room.Mode,
			TargetTemp:  room.TargetTemperature,
			Temperature: room.Temperature,
			Heating:     roomHeating(room, roomModules),
			Reachable:   room.Reachable,
			BridgeID:    bridgeID(roomModules),
			BoostStatus: room.BoostStatus,
		}
		snapshot.Minutes = p.addHeatingMinutes(snapshot, now)
		rooms[room.ID] = snapshot
	}
	return rooms
}

func filterModules(modules []module, ids set.Set[string]) []module {
	var filtered []module
	for _, m := range modules {
		if ids.Contains(m.id) {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

func bridgeID(modules []module) string {
	for _, m := range modules {
		if m.bridge != "" {
			return m.bridge
		}
	}
	return ""
}

// roomHeating determines whether a room is actively heating. Radiator modules
// reporting "heating" are authoritative. A radiator in "auto", or a room with
// no radiator modules at all, falls back to a heuristic: assume heating when
// the measured temperature is more than 0.5°C below target. The fallback can
// misclassify an idle but cold room, so it is a best effort signal only.
func roomHeating(room intuis.RoomStatus, modules []module) bool {
	belowTarget := room.TargetTemperature > 0 && room.Temperature < room.TargetTemperature-0.5
	for _, m := range modules {
		if m.kind != moduleThermostat {
			continue
		}
		switch strings.ToLower(m.radiatorState) {
		case "heating":
			return true
		case "auto":
			if belowTarget {
				return true
			}
		}
	}
	return belowTarget
}

// addHeatingMinutes advances the room's heating-minutes counter and returns
// its truncated value. The per-tick delta is capped at 1.5 times the poll
// interval to absorb missed or late polls.
func (p *IntuisPoller) addHeatingMinutes(room RoomSnapshot, now time.Time) int {
	if room.Heating && !p.lastPoll.IsZero() {
		delta := min(now.Sub(p.lastPoll).Minutes(), p.cfg.Interval.Minutes()*1.5)
		if delta > 0 {
			p.minutes[room.ID] += delta
		}
	}
	return int(p.minutes[room.ID])
}
