package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rawJSON := "{\"id\":\"d4kdisifn76c73dkrju0\",\"Session\":{\"Name\":\"Calibration\",\"Date\":\"2025-11-27T16:06:26.504207-07:00\",\"StartTime\":\"0001-01-01T00:00:00Z\",\"Probes\":[{\"Name\":\"Low E\",\"Position\":1},{\"Name\":\"A\",\"Position\":2}],\"Stages\":null,\"Events\":null,\"Data\":null},\"UploadedAt\":\"2025-11-27T23:06:26.60698014Z\"}"
	var s session
	err := json.Unmarshal([]byte(rawJSON), &s)
	require.NoError(t, err)
	assert.Equal(t, "d4kdisifn76c73dkrju0", s.GetID())
	assert.Equal(t, "Calibration", s.Name)
	assert.Len(t, s.Probes, 2)
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Channels
		err      bool
	}{
		{"Empty", "", nil, false},
		{"Two", "1=Low E, 2=A", Channels{{Name: "Low E", Position: 1}, {Name: "A", Position: 2}}, false},
		{"MissingName", "1", nil, true},
		{"ZeroPosition", "0=E", nil, true},
		{"NotNumber", "x=E", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channels, err := ParseChannels(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, channels)
		})
	}
}

type recorded struct {
	path string
	body string
}

func TestStagesAndEvents(t *testing.T) {
	var mu sync.Mutex
	var requests []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)

		mu.Lock()
		requests = append(requests, recorded{r.URL.Path, string(data)})
		mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.sessionID = "abc"

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.AddStage(context.Background(), "z_calibrate", now))
	require.NoError(t, c.AddEvent(context.Background(), "Calibration Offsets: 0: -4", now))
	require.NoError(t, c.Done(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 3)
	assert.Equal(t, "/sessions/abc/add-stage", requests[0].path)
	assert.Contains(t, requests[0].body, "z_calibrate")
	assert.Equal(t, "/sessions/abc/add-event", requests[1].path)
	assert.Contains(t, requests[1].body, "Calibration Offsets: 0: -4")
	assert.Equal(t, "/sessions/abc/done", requests[2].path)
}

func TestNoSessionIsSilent(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	assert.NoError(t, c.AddStage(context.Background(), "bump_check", time.Now()))
	assert.NoError(t, c.AddEvent(context.Background(), "done", time.Now()))
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.sessionID = "abc"
	assert.Error(t, c.AddEvent(context.Background(), "note", time.Now()))
}
