// Package health exposes a liveness probe over HTTP: the service is healthy
// once at least one poll cycle has completed, and the response summarizes
// what that cycle saw.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/intuis-community/intuis-monitor/internal/poller"
)

type Health struct {
	poller.Poller
	logger  *slog.Logger
	update  poller.Update
	updated time.Time
	lock    sync.RWMutex
}

// Report is the health document served to probes.
type Report struct {
	Status     string       `json:"status"`
	Home       string       `json:"home"`
	LastUpdate time.Time    `json:"last_update"`
	Rooms      []RoomReport `json:"rooms"`
}

type RoomReport struct {
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	Temperature float64 `json:"temperature"`
	TargetTemp  float64 `json:"target_temp"`
	Heating     bool    `json:"heating"`
	Reachable   bool    `json:"reachable"`
}

func New(p poller.Poller, logger *slog.Logger) *Health {
	return &Health{
		Poller: p,
		logger: logger,
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.Poller.Subscribe()
	defer h.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			h.lock.Lock()
			h.update = update
			h.updated = time.Now()
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	if h.updated.IsZero() {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Poller.Refresh()
		return
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(h.makeReport()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// makeReport builds the health document. Callers must hold h.lock.
func (h *Health) makeReport() Report {
	report := Report{
		Status:     "up",
		Home:       h.update.Home.Name,
		LastUpdate: h.updated,
		Rooms:      make([]RoomReport, 0, len(h.update.Rooms)),
	}
	for _, room := range h.update.Rooms {
		report.Rooms = append(report.Rooms, RoomReport{
			Name:        room.Name,
			Mode:        room.Mode,
			Temperature: room.Temperature,
			TargetTemp:  room.TargetTemp,
			Heating:     room.Heating,
			Reachable:   room.Reachable,
		})
	}
	slices.SortFunc(report.Rooms, func(a, b RoomReport) int {
		return strings.Compare(a.Name, b.Name)
	})
	return report
}
