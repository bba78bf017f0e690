// Package telemetry reports supervisor operations to a TWChart server as
// stages and events of a session.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calvinmclean/babyapi"
	"github.com/calvinmclean/twchart"
)

// Channels label the audio channels of a session, one probe per string
type Channels []twchart.Probe

type Client struct {
	client    *babyapi.Client[*session]
	sessionID string
}

type session struct {
	// include NilResource so we don't implement Render/Bind which are not needed
	*babyapi.NilResource
	twchart.Session
}

func (s session) GetID() string {
	return s.Session.GetID()
}

func NewClient(addr string) *Client {
	client := babyapi.NewClient[*session](addr, "/sessions")
	return &Client{client: client}
}

// CreateSession starts a new session and remembers its ID for later stages
// and events
func (c *Client) CreateSession(ctx context.Context, name string, channels Channels) (string, error) {
	resp, err := c.client.Post(ctx, &session{
		Session: twchart.Session{
			Name:      name,
			Date:      time.Now(),
			StartTime: time.Now(),
			Probes:    []twchart.Probe(channels),
		},
	})
	if err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}

	c.sessionID = resp.Data.GetID()

	return c.sessionID, nil
}

func (c *Client) SessionID() string {
	return c.sessionID
}

// AddEvent implements controller.Recorder.
func (c *Client) AddEvent(ctx context.Context, note string, now time.Time) error {
	return c.post(ctx, "/add-event", twchart.Event{Note: note, Time: now})
}

// AddStage implements controller.Recorder.
func (c *Client) AddStage(ctx context.Context, name string, now time.Time) error {
	return c.post(ctx, "/add-stage", twchart.Stage{Name: name, Start: now})
}

func (c *Client) Done(ctx context.Context) error {
	return c.post(ctx, "/done", map[string]any{"time": time.Now()})
}

func (c *Client) post(ctx context.Context, action string, body any) error {
	if c.sessionID == "" {
		return nil
	}

	url, err := c.client.URL(c.sessionID)
	if err != nil {
		return fmt.Errorf("error building url: %w", err)
	}

	return c.makeRequest(ctx, url+action, body)
}

func (c *Client) makeRequest(ctx context.Context, url string, body any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding body: %w", err)
		}

		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.MakeGenericRequest(req, nil)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	if resp.Response.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status code: %d, response: %v", resp.Response.StatusCode, resp.Body)
	}

	return nil
}

// ParseChannels parses "1=Low E,2=A,..." into channel labels. Positions
// start at 1.
func ParseChannels(input string) (Channels, error) {
	var channels Channels
	if strings.TrimSpace(input) == "" {
		return channels, nil
	}

	for entry := range strings.SplitSeq(input, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid channel entry: %q", entry)
		}
		posStr := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])

		var pos twchart.ProbePosition
		_, err := fmt.Sscanf(posStr, "%d", &pos)
		if err != nil || pos <= twchart.ProbePositionNone {
			return nil, fmt.Errorf("invalid channel position: %q", posStr)
		}
		channels = append(channels, twchart.Probe{Name: name, Position: pos})
	}
	return channels, nil
}
