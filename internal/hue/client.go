package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
)

// ErrGroupNotFound is returned when the bridge has no group with the ID.
var ErrGroupNotFound = errors.New("group not found")

// Client provides access to the Hue v1 API needed for streaming
type Client struct {
	address    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	bridge     *huego.Bridge
}

// NewClient creates a new Hue client
func NewClient(address, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		address: address,
		token:   token,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		bridge: huego.New(address, token),
	}
}

// Connect verifies the bridge is reachable and the token is accepted
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.bridge.GetConfigContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}

	log.Info().Str("address", c.address).Msg("Connected to Hue bridge")
	return nil
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Address returns the bridge address
func (c *Client) Address() string {
	return c.address
}

// Username returns the whitelisted bridge user
func (c *Client) Username() string {
	return c.token
}

func (c *Client) v1URL(path string) string {
	return fmt.Sprintf("http://%s/api/%s/%s", c.address, c.token, path)
}

func (c *Client) v1Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.v1URL(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// GroupAttributes returns a group by ID (v1 API)
func (c *Client) GroupAttributes(ctx context.Context, groupID string) (*Group, error) {
	id, err := strconv.Atoi(groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid group id %q", ErrGroupNotFound, groupID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	g, err := c.bridge.GetGroupContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	if g == nil || (g.Name == "" && g.Type == "" && len(g.Lights) == 0) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	return &Group{
		ID:     groupID,
		Name:   g.Name,
		Type:   g.Type,
		Class:  g.Class,
		Lights: g.Lights,
	}, nil
}

// SetStreaming toggles streaming mode on an entertainment group (v1 API).
// Returns false when the bridge did not confirm the change.
func (c *Client) SetStreaming(ctx context.Context, groupID string, enable bool) (bool, error) {
	body, err := json.Marshal(map[string]any{
		"stream": map[string]bool{"active": enable},
	})
	if err != nil {
		return false, err
	}

	resp, err := c.v1Request(ctx, http.MethodPut, fmt.Sprintf("groups/%s", groupID), bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("failed to set streaming: %s", string(raw))
	}

	var results []apiResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return false, fmt.Errorf("decode streaming response: %w", err)
	}

	key := fmt.Sprintf("/groups/%s/stream/active", groupID)
	for _, r := range results {
		if r.Error != nil {
			return false, r.Error
		}
		if v, ok := r.Success[key].(bool); ok && v == enable {
			log.Debug().Str("group", groupID).Bool("active", enable).Msg("Streaming mode changed")
			return true, nil
		}
	}

	return false, nil
}

// Lights returns all lights with capabilities (v1 API)
func (c *Client) Lights(ctx context.Context) (map[string]Light, error) {
	resp, err := c.v1Request(ctx, http.MethodGet, "lights", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var raw map[string]Light
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	for id, light := range raw {
		light.ID = id
		raw[id] = light
	}

	return raw, nil
}

// Groups returns all groups (v1 API)
func (c *Client) Groups(ctx context.Context) (map[string]Group, error) {
	resp, err := c.v1Request(ctx, http.MethodGet, "groups", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var raw map[string]Group
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	for id, group := range raw {
		group.ID = id
		raw[id] = group
	}

	return raw, nil
}
