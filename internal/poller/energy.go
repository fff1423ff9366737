package poller

import (
	"context"
	"log/slog"
	"time"
)

// realTimeScale reports whether the configured measurement scale returns live
// values rather than a finalized daily total.
func realTimeScale(scale string) bool {
	return scale != "1day"
}

// logicalDay returns the accounting day for now. Before the reset hour, the
// previous calendar day is still current: the cloud backend finalizes daily
// totals a few hours after midnight, and aligning the accounting day with
// that moment avoids double counting and gaps around midnight.
func logicalDay(now time.Time, resetHour int) string {
	if now.Hour() < resetHour {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format(time.DateOnly)
}

// fetchEnergy fills in the per-room energy totals for the current accounting
// day. Daily totals are cached per calendar day and only fetched after the
// reset hour; real-time scales always fetch. Per-room fetch failures are
// logged and yield a zero value: energy is supplementary telemetry and must
// never abort the poll cycle.
func (p *IntuisPoller) fetchEnergy(ctx context.Context, rooms Rooms, now time.Time) {
	realTime := realTimeScale(p.cfg.EnergyScale)
	today := now.Format(time.DateOnly)

	if !realTime {
		if now.Hour() < p.cfg.EnergyResetHour {
			p.logger.Debug("skipping energy fetch before reset hour", slog.Int("reset_hour", p.cfg.EnergyResetHour))
			return
		}
		if p.energyDay == today {
			for id, room := range rooms {
				room.Energy = p.energy[id]
				rooms[id] = room
			}
			return
		}
	}

	year, month, day := now.Date()
	begin := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	end := begin.AddDate(0, 0, 1).Add(-time.Second)
	if realTime {
		end = now
	}

	totals := make(map[string]float64, len(rooms))
	for id, room := range rooms {
		if room.BridgeID == "" {
			p.logger.Debug("room has no bridge, skipping energy fetch", slog.String("id", id))
			continue
		}
		wh, err := p.Client.GetRoomEnergy(ctx, id, begin, end, p.cfg.EnergyScale)
		if err != nil {
			p.logger.Warn("failed to fetch room energy", slog.String("id", id), slog.Any("err", err))
			wh = 0
		}
		kwh := wh / 1000
		totals[id] = kwh
		room.Energy = kwh
		rooms[id] = room
	}

	if !realTime {
		p.energy = totals
		p.energyDay = today
	}
}
