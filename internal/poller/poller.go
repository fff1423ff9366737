// Package poller periodically fetches the state of the home from the cloud
// backend, builds per-room snapshots and publishes them to all subscribers.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/intuis-community/intuis-monitor/internal/intuis"
	"github.com/intuis-community/intuis-monitor/internal/notifier"
	"github.com/intuis-community/intuis-monitor/pkg/pubsub"
)

// Defaults for the poll loop.
const (
	DefaultInterval    = 2 * time.Minute
	DefaultMaxInterval = 10 * time.Minute
)

type Poller interface {
	Subscribe() chan Update
	Unsubscribe(ch chan Update)
	Refresh()
}

// IntuisClient is the part of the API client the poller uses.
type IntuisClient interface {
	GetHomeData(ctx context.Context) (intuis.HomeDefinition, error)
	GetHomeStatus(ctx context.Context) (intuis.HomeStatus, error)
	GetHomeConfig(ctx context.Context) (intuis.HomeConfig, error)
	GetRoomEnergy(ctx context.Context, roomID string, begin, end time.Time, scale string) (float64, error)
	Timezone() string
}

// A Reconciler inspects the rooms of the current cycle and pushes any room
// state changes it decides on. It must degrade gracefully: a failure for one
// room may not abort the cycle.
type Reconciler interface {
	Reconcile(ctx context.Context, rooms Rooms)
}

// Configuration holds the poll loop settings.
type Configuration struct {
	Interval        time.Duration
	MaxInterval     time.Duration
	EnergyScale     string
	EnergyResetHour int
}

var _ Poller = &IntuisPoller{}

// IntuisPoller drives the poll loop. All state below the configuration is
// owned by the loop goroutine and needs no locking.
type IntuisPoller struct {
	Client     IntuisClient
	Reconciler Reconciler
	Notifier   notifier.Notifier
	*pubsub.Publisher[Update]
	cfg     Configuration
	logger  *slog.Logger
	refresh chan struct{}

	home      intuis.HomeDefinition
	interval  time.Duration
	lastPoll  time.Time
	day       string
	minutes   map[string]float64
	energy    map[string]float64
	energyDay string
}

func New(client IntuisClient, reconciler Reconciler, cfg Configuration, logger *slog.Logger) *IntuisPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = DefaultMaxInterval
	}
	return &IntuisPoller{
		Client:     client,
		Reconciler: reconciler,
		Publisher:  pubsub.New[Update](logger.With(slog.String("component", "registry"))),
		cfg:        cfg,
		logger:     logger,
		refresh:    make(chan struct{}),
		interval:   cfg.Interval,
		minutes:    make(map[string]float64),
		energy:     make(map[string]float64),
	}
}

func (p *IntuisPoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.cfg.Interval))
	defer p.logger.Debug("stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.refresh:
		}

		if err := p.poll(ctx); err != nil {
			p.logger.Error("failed to update home state", slog.Any("err", err))
			if errors.Is(err, intuis.ErrRateLimited) {
				p.slowDown(ticker)
			}
			continue
		}
		p.restoreInterval(ticker)
	}
}

// Refresh triggers an immediate poll.
func (p *IntuisPoller) Refresh() {
	p.refresh <- struct{}{}
}

// slowDown doubles the poll interval, up to the configured maximum, so a rate
// limited backend is given room to recover.
func (p *IntuisPoller) slowDown(ticker *time.Ticker) {
	interval := min(2*p.interval, p.cfg.MaxInterval)
	if interval == p.interval {
		return
	}
	p.interval = interval
	ticker.Reset(interval)
	p.logger.Warn("rate limited, slowing down polling", slog.Duration("interval", interval))
	p.notify("rate limited, slowing down polling to every " + interval.String())
}

// restoreInterval resets the poll interval after a successful cycle.
func (p *IntuisPoller) restoreInterval(ticker *time.Ticker) {
	if p.interval == p.cfg.Interval {
		return
	}
	p.interval = p.cfg.Interval
	ticker.Reset(p.interval)
	p.logger.Info("polling recovered", slog.Duration("interval", p.interval))
	p.notify("polling recovered, back to every " + p.interval.String())
}

func (p *IntuisPoller) notify(msg string) {
	if p.Notifier != nil {
		p.Notifier.Notify(msg)
	}
}

func (p *IntuisPoller) poll(ctx context.Context) error {
	start := time.Now()
	update, err := p.update(ctx)
	if err == nil {
		p.Publisher.Publish(update)
		p.logger.Debug("poll completed", slog.Duration("duration", time.Since(start)))
	}
	return err
}

// update runs one poll cycle. The home status and configuration are control
// critical: a failure there aborts the cycle. Override reconciliation and
// energy totals degrade per room instead.
func (p *IntuisPoller) update(ctx context.Context) (Update, error) {
	if p.home.ID == "" {
		home, err := p.Client.GetHomeData(ctx)
		if err != nil {
			return Update{}, err
		}
		p.home = home
	}

	now := time.Now().In(p.location())
	p.rolloverDay(now)

	status, err := p.Client.GetHomeStatus(ctx)
	if err != nil {
		return Update{}, err
	}
	rooms := p.mapRooms(status, extractModules(status, p.logger), now)

	if p.Reconciler != nil {
		p.Reconciler.Reconcile(ctx, rooms)
	}

	config, err := p.Client.GetHomeConfig(ctx)
	if err != nil {
		return Update{}, err
	}

	p.fetchEnergy(ctx, rooms, now)
	p.lastPoll = now

	return Update{
		Home:   HomeInfo{ID: p.home.ID, Name: p.home.Name, Timezone: p.home.Timezone},
		Config: config,
		Rooms:  rooms,
	}, nil
}

// rolloverDay clears the energy cache and the heating-minutes counters when
// the accounting day changes. Both represent the same accounting period and
// must reset together.
func (p *IntuisPoller) rolloverDay(now time.Time) {
	day := logicalDay(now, p.cfg.EnergyResetHour)
	if p.day != "" && p.day != day {
		p.logger.Info("new accounting day, resetting counters",
			slog.String("previous", p.day), slog.String("current", day))
		clear(p.minutes)
		clear(p.energy)
		p.energyDay = ""
	}
	p.day = day
}

func (p *IntuisPoller) layout(roomID string) (intuis.RoomDefinition, bool) {
	for _, room := range p.home.Rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return intuis.RoomDefinition{}, false
}

func (p *IntuisPoller) location() *time.Location {
	location, err := time.LoadLocation(p.Client.Timezone())
	if err != nil {
		return time.UTC
	}
	return location
}
