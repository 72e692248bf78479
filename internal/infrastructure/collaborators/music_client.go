package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
)

// MusicClientConfig configures the HTTP music queue client.
type MusicClientConfig struct {
	BaseURL           string
	APIToken          string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// MusicClient talks to the external music queue service over its REST API.
// All calls are paced by a client-side limiter so a burst of tips cannot trip
// the service's own rate limits.
type MusicClient struct {
	cfg     MusicClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

var _ ports.MusicService = (*MusicClient)(nil)

func NewMusicClient(cfg MusicClientConfig, logger *zap.SugaredLogger) *MusicClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &MusicClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

type trackResponse struct {
	Track struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Artist  string   `json:"artist"`
		Markets []string `json:"markets"`
	} `json:"track"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

type devicesResponse struct {
	Devices []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	} `json:"devices"`
}

func (c *MusicClient) ResolveTrack(ctx context.Context, query string) (*domain.Track, error) {
	var resp trackResponse
	path := "/v1/search?q=" + url.QueryEscape(query)
	status, err := c.get(ctx, path, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrTrackNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", status)
	}
	return &domain.Track{
		ID:      resp.Track.ID,
		Title:   resp.Track.Title,
		Artist:  resp.Track.Artist,
		Markets: resp.Track.Markets,
	}, nil
}

func (c *MusicClient) CheckAvailability(ctx context.Context, trackID, market string) (bool, error) {
	var resp availabilityResponse
	path := fmt.Sprintf("/v1/tracks/%s/availability?market=%s", url.PathEscape(trackID), url.QueryEscape(market))
	status, err := c.get(ctx, path, &resp)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, domain.ErrTrackNotFound
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("availability returned status %d", status)
	}
	return resp.Available, nil
}

func (c *MusicClient) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var resp devicesResponse
	status, err := c.get(ctx, "/v1/devices", &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("devices returned status %d", status)
	}
	devices := make([]domain.Device, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		devices = append(devices, domain.Device{ID: d.ID, Name: d.Name, Active: d.Active})
	}
	return devices, nil
}

func (c *MusicClient) Enqueue(ctx context.Context, trackID, deviceID, idempotencyKey string) error {
	body := map[string]string{
		"track_id":  trackID,
		"device_id": deviceID,
	}
	status, err := c.post(ctx, "/v1/queue", idempotencyKey, body)
	if err != nil {
		return err
	}
	// 409 means the key was already applied. That is the idempotent replay
	// path, not a failure.
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("enqueue returned status %d", status)
	}
	return nil
}

func (c *MusicClient) Skip(ctx context.Context, deviceID string) error {
	path := fmt.Sprintf("/v1/devices/%s/skip", url.PathEscape(deviceID))
	status, err := c.post(ctx, path, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("skip returned status %d", status)
	}
	return nil
}

func (c *MusicClient) get(ctx context.Context, path string, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (c *MusicClient) post(ctx context.Context, path, idempotencyKey string, body interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req, idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *MusicClient) setHeaders(req *http.Request, idempotencyKey string) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
}
