package intuis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// energyMeasureTypes requests all tariff buckets so no consumption is missed.
const energyMeasureTypes = "sum_energy_elec,sum_energy_elec$0,sum_energy_elec$1,sum_energy_elec$2," +
	"sum_energy_elec_heating,sum_energy_elec_hot_water"

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Home identifies a home associated with the account.
type Home struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

// HomeDefinition is the static layout of a home: its rooms and which modules
// they contain.
type HomeDefinition struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Timezone string           `json:"timezone"`
	Rooms    []RoomDefinition `json:"rooms"`
}

type RoomDefinition struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	ModuleIDs []string `json:"module_ids"`
}

// HomeStatus is the live state of a home: per-room setpoints and measurements,
// plus the state of every module.
type HomeStatus struct {
	ID      string         `json:"id"`
	Rooms   []RoomStatus   `json:"rooms"`
	Modules []ModuleStatus `json:"modules"`
}

type RoomStatus struct {
	ID                string  `json:"id"`
	Reachable         bool    `json:"reachable"`
	Temperature       float64 `json:"therm_measured_temperature"`
	TargetTemperature float64 `json:"therm_setpoint_temperature"`
	Mode              string  `json:"therm_setpoint_mode"`
	SetpointEndTime   int64   `json:"therm_setpoint_end_time"`
	BoostStatus       string  `json:"boost_status"`
	OpenWindow        bool    `json:"open_window"`
	Presence          bool    `json:"presence"`
	Anticipation      bool    `json:"anticipation"`
}

type ModuleStatus struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Bridge        string `json:"bridge"`
	Reachable     bool   `json:"reachable"`
	RadiatorState string `json:"radiator_state"`
}

// HomeConfig holds the home's configuration as returned by getconfigs.
type HomeConfig struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedules []Schedule `json:"schedules"`
}

type Schedule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Selected bool   `json:"selected"`
}

// GetHomes returns all homes associated with the account.
func (c *Client) GetHomes(ctx context.Context) ([]Home, error) {
	body, err := c.do(ctx, http.MethodGet, homesDataPath, "", nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		Body struct {
			Homes []Home `json:"homes"`
		} `json:"body"`
	}
	if err = json.Unmarshal(body, &response); err != nil {
		return nil, &APIError{Method: http.MethodGet, Path: homesDataPath, Reason: "malformed homesdata response"}
	}
	return response.Body.Homes, nil
}

// GetHomeData returns the layout of the configured home (or the account's
// first home) and records its id and timezone for subsequent calls.
func (c *Client) GetHomeData(ctx context.Context) (HomeDefinition, error) {
	body, err := c.do(ctx, http.MethodGet, homesDataPath, "", nil)
	if err != nil {
		return HomeDefinition{}, err
	}
	var response struct {
		Body struct {
			Homes []HomeDefinition `json:"homes"`
		} `json:"body"`
	}
	if err = json.Unmarshal(body, &response); err != nil || len(response.Body.Homes) == 0 {
		return HomeDefinition{}, &APIError{Method: http.MethodGet, Path: homesDataPath, Reason: "empty homesdata response"}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	home := response.Body.Homes[0]
	if c.homeID != "" {
		var found bool
		for _, h := range response.Body.Homes {
			if h.ID == c.homeID {
				home, found = h, true
				break
			}
		}
		if !found {
			return HomeDefinition{}, &APIError{Method: http.MethodGet, Path: homesDataPath, Reason: "home " + c.homeID + " not found"}
		}
	}
	c.homeID = home.ID
	if home.Timezone != "" {
		c.homeTimezone = home.Timezone
	}
	return home, nil
}

// GetHomeStatus returns the live state of the home. A missing or empty home
// in the response is an error: without it, the rest of the poll cycle is
// meaningless.
func (c *Client) GetHomeStatus(ctx context.Context) (HomeStatus, error) {
	payload, _ := json.Marshal(map[string]string{"home_id": c.HomeID()})
	body, err := c.do(ctx, http.MethodPost, homeStatusPath, contentTypeJSON, payload)
	if err != nil {
		return HomeStatus{}, err
	}
	var response struct {
		Body struct {
			Home HomeStatus `json:"home"`
		} `json:"body"`
	}
	if err = json.Unmarshal(body, &response); err != nil || response.Body.Home.ID == "" {
		return HomeStatus{}, &APIError{Method: http.MethodPost, Path: homeStatusPath, Reason: "empty home status response"}
	}
	return response.Body.Home, nil
}

// GetHomeConfig returns the home's configuration.
func (c *Client) GetHomeConfig(ctx context.Context) (HomeConfig, error) {
	payload, _ := json.Marshal(map[string]string{"home_id": c.HomeID()})
	body, err := c.do(ctx, http.MethodPost, configPath, contentTypeJSON, payload)
	if err != nil {
		return HomeConfig{}, err
	}
	var response struct {
		Body struct {
			Home HomeConfig `json:"home"`
		} `json:"body"`
	}
	if err = json.Unmarshal(body, &response); err != nil || response.Body.Home.ID == "" {
		return HomeConfig{}, &APIError{Method: http.MethodPost, Path: configPath, Reason: "empty home configuration response"}
	}
	return response.Body.Home, nil
}

// SetRoomState sends a setstate command for one room. Manual mode requires a
// temperature. For manual, away, boost and frost guard modes, the setpoint
// runs for the given duration; the device reverts to its schedule afterwards.
func (c *Client) SetRoomState(ctx context.Context, roomID, mode string, temperature *float64, durationMinutes int) error {
	room := map[string]any{
		"id":                  roomID,
		"therm_setpoint_mode": mode,
	}
	switch mode {
	case ModeManual:
		if temperature == nil {
			return &APIError{Method: http.MethodPost, Path: setStatePath, Reason: "manual mode requires temperature"}
		}
		fallthrough
	case ModeAway, ModeBoost, ModeFrostGuard:
		if temperature != nil {
			room["therm_setpoint_temperature"] = *temperature
			room["therm_setpoint_end_time"] = time.Now().Unix() + int64(durationMinutes)*60
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"app_type":    appType,
		"app_version": appVersion,
		"home": map[string]any{
			"id":       c.HomeID(),
			"timezone": c.Timezone(),
			"rooms":    []any{room},
		},
	})
	_, err := c.do(ctx, http.MethodPost, setStatePath, contentTypeJSON, payload)
	return err
}

// GetRoomEnergy returns the energy consumed by a room between begin and end,
// in Wh, summed across all non-null tariff buckets.
func (c *Client) GetRoomEnergy(ctx context.Context, roomID string, begin, end time.Time, scale string) (float64, error) {
	form := url.Values{
		"home_id":    []string{c.HomeID()},
		"room_id":    []string{roomID},
		"scale":      []string{scale},
		"type":       []string{energyMeasureTypes},
		"date_begin": []string{strconv.FormatInt(begin.Unix(), 10)},
		"date_end":   []string{strconv.FormatInt(end.Unix(), 10)},
	}
	body, err := c.do(ctx, http.MethodPost, roomMeasurePath, contentTypeForm, []byte(form.Encode()))
	if err != nil {
		return 0, err
	}

	var response struct {
		Body []struct {
			BegTime  int64        `json:"beg_time"`
			StepTime int64        `json:"step_time"`
			Value    [][]*float64 `json:"value"`
		} `json:"body"`
	}
	if err = json.Unmarshal(body, &response); err != nil {
		return 0, &APIError{Method: http.MethodPost, Path: roomMeasurePath, Reason: fmt.Sprintf("malformed measure response: %v", err)}
	}

	var total float64
	for _, measure := range response.Body {
		for _, tariffs := range measure.Value {
			for _, value := range tariffs {
				if value != nil {
					total += *value
				}
			}
		}
	}
	return total, nil
}
