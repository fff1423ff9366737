package poller

import (
	"log/slog"
	"slices"

	"github.com/intuis-community/intuis-monitor/internal/intuis"
)

// Update is the aggregated snapshot of one poll cycle.
type Update struct {
	Home   HomeInfo
	Config intuis.HomeConfig
	Rooms  Rooms
}

// HomeInfo identifies the home the snapshot belongs to.
type HomeInfo struct {
	ID       string
	Name     string
	Timezone string
}

// Rooms indexes the per-room snapshots by room id.
type Rooms map[string]RoomSnapshot

// RoomSnapshot is the state of one room, combining live device state with the
// accumulated counters for the current accounting day.
type RoomSnapshot struct {
	ID          string
	Name        string
	Mode        string
	TargetTemp  float64
	Temperature float64
	Heating     bool
	Reachable   bool
	BridgeID    string
	BoostStatus string
	Energy      float64 // kWh consumed this accounting day
	Minutes     int     // heating minutes this accounting day
}

// GetRoomID returns the id of the room with the given name.
func (u Update) GetRoomID(name string) (string, bool) {
	for id, room := range u.Rooms {
		if room.Name == name {
			return id, true
		}
	}
	return "", false
}

func (r Rooms) sortedIDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r Rooms) LogValue() slog.Value {
	var rooms []slog.Attr
	for _, id := range r.sortedIDs() {
		room := r[id]
		rooms = append(rooms, slog.Group("room_"+id,
			slog.String("name", room.Name),
			slog.String("mode", room.Mode),
			slog.Float64("temperature", room.Temperature),
			slog.Float64("target", room.TargetTemp),
			slog.Bool("heating", room.Heating),
		))
	}
	return slog.GroupValue(rooms...)
}
