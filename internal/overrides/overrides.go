// Package overrides tracks temporary room overrides (manual temperature,
// away, boost, frost protection) and keeps them in force across poll cycles
// until they expire or are cancelled.
package overrides

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/intuis-community/intuis-monitor/internal/intuis"
	"github.com/intuis-community/intuis-monitor/internal/poller"
)

// Presets a caller can apply to a room.
const (
	PresetAway         = "away"
	PresetBoost        = "boost"
	PresetFrostProtect = "frost_protect"
)

// Default durations (minutes) and preset temperatures (°C).
const (
	DefaultManualDuration     = 60
	DefaultAwayDuration       = 240
	DefaultBoostDuration      = 30
	DefaultFrostGuardDuration = 1440

	DefaultAwayTemp       = 16.0
	DefaultBoostTemp      = 22.0
	DefaultFrostGuardTemp = 7.0
)

// An override nearing expiry is pushed out again this long before its end
// time, at most once per minReapplyInterval, when indefinite mode is on.
const (
	reapplyBuffer      = 5 * time.Minute
	minReapplyInterval = 2 * time.Minute
)

// Override is one room's active override.
type Override struct {
	RoomID        string  `yaml:"room_id"`
	Mode          string  `yaml:"mode"`
	TargetTemp    float64 `yaml:"temp"`
	EndAt         int64   `yaml:"end"`
	Sticky        bool    `yaml:"sticky"`
	LastReapplyAt int64   `yaml:"last_reapply"`
}

// StateSetter pushes a room state change to the backend.
type StateSetter interface {
	SetRoomState(ctx context.Context, roomID, mode string, temperature *float64, durationMinutes int) error
}

// Configuration holds the override durations and preset temperatures.
type Configuration struct {
	ManualDuration     int
	AwayDuration       int
	BoostDuration      int
	FrostGuardDuration int
	AwayTemp           float64
	BoostTemp          float64
	FrostGuardTemp     float64
	Indefinite         bool
}

func (c Configuration) withDefaults() Configuration {
	if c.ManualDuration <= 0 {
		c.ManualDuration = DefaultManualDuration
	}
	if c.AwayDuration <= 0 {
		c.AwayDuration = DefaultAwayDuration
	}
	if c.BoostDuration <= 0 {
		c.BoostDuration = DefaultBoostDuration
	}
	if c.FrostGuardDuration <= 0 {
		c.FrostGuardDuration = DefaultFrostGuardDuration
	}
	if c.AwayTemp <= 0 {
		c.AwayTemp = DefaultAwayTemp
	}
	if c.BoostTemp <= 0 {
		c.BoostTemp = DefaultBoostTemp
	}
	if c.FrostGuardTemp <= 0 {
		c.FrostGuardTemp = DefaultFrostGuardTemp
	}
	return c
}

// Manager owns the override map. User-facing operations surface errors
// synchronously; the background reconciliation run by the poll cycle logs
// failures and retries next cycle instead.
type Manager struct {
	client    StateSetter
	store     Store
	cfg       Configuration
	logger    *slog.Logger
	lock      sync.Mutex
	overrides map[string]Override
}

var _ poller.Reconciler = &Manager{}

// New returns a Manager with any previously saved overrides loaded from the
// store.
func New(client StateSetter, store Store, cfg Configuration, logger *slog.Logger) (*Manager, error) {
	saved, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	if saved == nil {
		saved = make(map[string]Override)
	}
	return &Manager{
		client:    client,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		overrides: saved,
	}, nil
}

// SetTemperature sets a manual temperature override on a room.
func (m *Manager) SetTemperature(ctx context.Context, roomID string, temperature float64) error {
	return m.apply(ctx, roomID, intuis.ModeManual, temperature, m.cfg.ManualDuration)
}

// SetPreset puts a room in away, boost or frost protection mode, using the
// configured temperature and duration for the preset.
func (m *Manager) SetPreset(ctx context.Context, roomID, preset string) error {
	var mode string
	var temperature float64
	var duration int
	switch preset {
	case PresetAway:
		mode, temperature, duration = intuis.ModeAway, m.cfg.AwayTemp, m.cfg.AwayDuration
	case PresetBoost:
		mode, temperature, duration = intuis.ModeBoost, m.cfg.BoostTemp, m.cfg.BoostDuration
	case PresetFrostProtect:
		mode, temperature, duration = intuis.ModeFrostGuard, m.cfg.FrostGuardTemp, m.cfg.FrostGuardDuration
	default:
		return fmt.Errorf("invalid preset %q", preset)
	}
	return m.apply(ctx, roomID, mode, temperature, duration)
}

func (m *Manager) apply(ctx context.Context, roomID, mode string, temperature float64, duration int) error {
	if err := m.client.SetRoomState(ctx, roomID, mode, &temperature, duration); err != nil {
		return err
	}
	now := time.Now().Unix()
	m.lock.Lock()
	m.overrides[roomID] = Override{
		RoomID:        roomID,
		Mode:          mode,
		TargetTemp:    temperature,
		EndAt:         now + int64(duration)*60,
		Sticky:        true,
		LastReapplyAt: now,
	}
	m.lock.Unlock()
	return m.persist()
}

// Resume returns a room to its schedule and drops its override.
func (m *Manager) Resume(ctx context.Context, roomID string) error {
	return m.clear(ctx, roomID, intuis.ModeHome)
}

// Off switches a room off and drops its override.
func (m *Manager) Off(ctx context.Context, roomID string) error {
	return m.clear(ctx, roomID, intuis.ModeOff)
}

func (m *Manager) clear(ctx context.Context, roomID, mode string) error {
	if err := m.client.SetRoomState(ctx, roomID, mode, nil, 0); err != nil {
		return err
	}
	m.lock.Lock()
	_, found := m.overrides[roomID]
	delete(m.overrides, roomID)
	m.lock.Unlock()
	if !found {
		return nil
	}
	return m.persist()
}

// GetOverride returns the active override for a room.
func (m *Manager) GetOverride(roomID string) (Override, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	override, found := m.overrides[roomID]
	return override, found
}

// Overrides returns all active overrides, keyed by room id.
func (m *Manager) Overrides() map[string]Override {
	m.lock.Lock()
	defer m.lock.Unlock()
	overrides := make(map[string]Override, len(m.overrides))
	for id, override := range m.overrides {
		overrides[id] = override
	}
	return overrides
}

// Reconcile runs the override state machine against the rooms of the current
// poll cycle: overrides for rooms that no longer exist are dropped, sticky
// overrides nearing expiry are pushed out again when indefinite mode is on,
// and expired overrides are dropped otherwise (the device has already
// reverted to its schedule, so no remote call is made). The store is written
// at most once per cycle. Reapply failures leave the override untouched so
// the next cycle retries.
func (m *Manager) Reconcile(ctx context.Context, rooms poller.Rooms) {
	now := time.Now().Unix()
	changed := m.sweep(rooms, now)

	for _, override := range m.dueForReapply(now) {
		duration := m.duration(override.Mode)
		temperature := override.TargetTemp
		if err := m.client.SetRoomState(ctx, override.RoomID, override.Mode, &temperature, duration); err != nil {
			m.logger.Error("failed to reapply override",
				slog.String("room", override.RoomID), slog.String("mode", override.Mode), slog.Any("err", err))
			continue
		}
		m.logger.Info("override reapplied",
			slog.String("room", override.RoomID), slog.String("mode", override.Mode), slog.Int("duration", duration))
		override.EndAt = now + int64(duration)*60
		override.LastReapplyAt = now
		m.lock.Lock()
		if _, found := m.overrides[override.RoomID]; found {
			m.overrides[override.RoomID] = override
			changed = true
		}
		m.lock.Unlock()
	}

	if changed {
		if err := m.persist(); err != nil {
			m.logger.Error("failed to save overrides", slog.Any("err", err))
		}
	}
}

// sweep drops orphaned and naturally expired overrides.
func (m *Manager) sweep(rooms poller.Rooms, now int64) bool {
	ids := set.New[string]()
	for id := range rooms {
		ids.Add(id)
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	var changed bool
	for roomID, override := range m.overrides {
		if !ids.Contains(roomID) {
			m.logger.Warn("removing orphaned override", slog.String("room", roomID))
			delete(m.overrides, roomID)
			changed = true
			continue
		}
		if !m.cfg.Indefinite && override.Sticky && now > override.EndAt {
			m.logger.Debug("override expired", slog.String("room", roomID))
			delete(m.overrides, roomID)
			changed = true
		}
	}
	return changed
}

// dueForReapply returns the sticky overrides inside the reapply window. The
// remote calls happen outside the lock.
func (m *Manager) dueForReapply(now int64) []Override {
	if !m.cfg.Indefinite {
		return nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	var due []Override
	for _, override := range m.overrides {
		if !override.Sticky {
			continue
		}
		timeToExpiry := override.EndAt - now
		sinceReapply := now - override.LastReapplyAt
		if timeToExpiry <= int64(reapplyBuffer.Seconds()) && sinceReapply >= int64(minReapplyInterval.Seconds()) {
			due = append(due, override)
		}
	}
	return due
}

func (m *Manager) duration(mode string) int {
	switch mode {
	case intuis.ModeAway:
		return m.cfg.AwayDuration
	case intuis.ModeBoost:
		return m.cfg.BoostDuration
	case intuis.ModeFrostGuard:
		return m.cfg.FrostGuardDuration
	default:
		return m.cfg.ManualDuration
	}
}

func (m *Manager) persist() error {
	return m.store.Save(m.Overrides())
}
