package intuis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Login(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "password", form.Get("grant_type"))
		assert.Equal(t, "user@example.com", form.Get("username"))
		authHandler("login-token")(w, r)
	})
	mux.HandleFunc(homesDataPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"body":{"homes":[{"id":"home-1","name":"Home","timezone":"Europe/Paris"}]}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	downServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(downServer.Close)

	c := New("user@example.com", "password", WithMinRequestDelay(0))
	// first cluster refuses the login; the second one works
	c.clusters = []string{downServer.URL, server.URL}

	homes, err := c.Login(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 1)
	assert.Equal(t, "home-1", homes[0].ID)
	assert.Equal(t, server.URL, c.baseURL)
	assert.Equal(t, "login-token", c.bearerToken())
}

func TestClient_Login_AllClustersDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	c := New("user@example.com", "password", WithMinRequestDelay(0))
	c.clusters = []string{server.URL}

	_, err := c.Login(context.Background())
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestClient_GetHomeData_FreshClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, authHandler("first-token"))
	mux.HandleFunc(homesDataPath, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer first-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"body":{"homes":[{"id":"home-1","name":"Home","timezone":"Europe/Paris"}]}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	// a client straight out of New, with credentials but no tokens yet
	c := New("user@example.com", "password", WithMinRequestDelay(0))
	c.clusters = []string{server.URL}

	home, err := c.GetHomeData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "home-1", home.ID)
}

func TestClient_GetHomeData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(homesDataPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"body":{"homes":[
			{"id":"home-1","name":"Main","timezone":"Europe/Paris","rooms":[{"id":"room-1","name":"Living Room","type":"livingroom","module_ids":["mod-1"]}]},
			{"id":"home-2","name":"Cottage","timezone":"Europe/Brussels","rooms":[]}
		]}}`))
	})

	c := newTestClient(t, mux)
	c.homeID = "home-2"

	home, err := c.GetHomeData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "home-2", home.ID)
	assert.Equal(t, "Europe/Brussels", c.Timezone())

	c.homeID = "home-3"
	_, err = c.GetHomeData(context.Background())
	assert.ErrorIs(t, err, &APIError{})
}

func TestClient_GetHomeStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(homeStatusPath, func(w http.ResponseWriter, r *http.Request) {
		var request map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "home-1", request["home_id"])
		_, _ = w.Write([]byte(`{"body":{"home":{"id":"home-1","rooms":[
			{"id":"room-1","reachable":true,"therm_measured_temperature":19.5,"therm_setpoint_temperature":21,"therm_setpoint_mode":"manual","therm_setpoint_end_time":1700000000}
		],"modules":[
			{"id":"mod-1","type":"NMH","bridge":"bridge-1","reachable":true,"radiator_state":"heating"}
		]}}}`))
	})

	c := newTestClient(t, mux)
	c.homeID = "home-1"

	status, err := c.GetHomeStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Rooms, 1)
	assert.Equal(t, 19.5, status.Rooms[0].Temperature)
	assert.Equal(t, ModeManual, status.Rooms[0].Mode)
	require.Len(t, status.Modules, 1)
	assert.Equal(t, "heating", status.Modules[0].RadiatorState)
}

func TestClient_GetHomeStatus_Malformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(homeStatusPath, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"body":{}}`))
	})

	c := newTestClient(t, mux)
	_, err := c.GetHomeStatus(context.Background())
	assert.ErrorIs(t, err, &APIError{})
}

func TestClient_SetRoomState(t *testing.T) {
	type setStatePayload struct {
		AppType string `json:"app_type"`
		Home    struct {
			ID       string `json:"id"`
			Timezone string `json:"timezone"`
			Rooms    []struct {
				ID          string   `json:"id"`
				Mode        string   `json:"therm_setpoint_mode"`
				Temperature *float64 `json:"therm_setpoint_temperature"`
				EndTime     int64    `json:"therm_setpoint_end_time"`
			} `json:"rooms"`
		} `json:"home"`
	}
	payloads := make(chan setStatePayload, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(setStatePath, func(w http.ResponseWriter, r *http.Request) {
		var payload setStatePayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		payloads <- payload
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	c := newTestClient(t, mux)
	c.homeID = "home-1"
	c.homeTimezone = "Europe/Paris"

	temperature := 21.5
	require.NoError(t, c.SetRoomState(context.Background(), "room-1", ModeManual, &temperature, 60))
	payload := <-payloads
	assert.Equal(t, appType, payload.AppType)
	assert.Equal(t, "home-1", payload.Home.ID)
	require.Len(t, payload.Home.Rooms, 1)
	room := payload.Home.Rooms[0]
	assert.Equal(t, ModeManual, room.Mode)
	require.NotNil(t, room.Temperature)
	assert.Equal(t, 21.5, *room.Temperature)
	assert.InDelta(t, time.Now().Unix()+3600, room.EndTime, 5)

	// back to schedule: no temperature, no end time
	require.NoError(t, c.SetRoomState(context.Background(), "room-1", ModeHome, nil, 0))
	payload = <-payloads
	assert.Nil(t, payload.Home.Rooms[0].Temperature)

	// manual without a temperature is refused client-side
	assert.ErrorIs(t, c.SetRoomState(context.Background(), "room-1", ModeManual, nil, 60), &APIError{})
}

func TestClient_GetRoomEnergy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(roomMeasurePath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "home-1", r.Form.Get("home_id"))
		assert.Equal(t, "room-1", r.Form.Get("room_id"))
		assert.Equal(t, "1day", r.Form.Get("scale"))
		_, _ = w.Write([]byte(`{"body":[{"beg_time":1700000000,"step_time":86400,"value":[[1250.0,null,250.0],[null]]}]}`))
	})

	c := newTestClient(t, mux)
	c.homeID = "home-1"

	wh, err := c.GetRoomEnergy(context.Background(), "room-1", time.Now().Add(-24*time.Hour), time.Now(), "1day")
	require.NoError(t, err)
	assert.Equal(t, 1500.0, wh)
}
