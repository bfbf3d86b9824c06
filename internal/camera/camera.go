// Package camera opens network cameras that serve JPEG snapshots over HTTP.
package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSnapshotPath = "/axis-cgi/jpg/image.cgi"
	exposurePath        = "/axis-cgi/param.cgi"
	defaultTimeout      = 5 * time.Second
)

type Config struct {
	Name         string
	Host         string // base URL, e.g. http://192.168.1.21
	Username     string
	Password     string
	SnapshotPath string
	// Exposure in microseconds, 0 keeps the camera setting.
	Exposure int
	Timeout  time.Duration
}

// HTTPCamera is an open snapshot camera. Each handle is owned by exactly one worker.
type HTTPCamera struct {
	cfg    Config
	client *http.Client
	url    string
}

// Open configures the camera and captures one probe frame so that an
// unreachable camera fails here rather than on the first unit.
func Open(ctx context.Context, cfg Config) (*HTTPCamera, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("camera %s: host is empty", cfg.Name)
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = defaultSnapshotPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &HTTPCamera{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: &http.Transport{}},
		url:    strings.TrimRight(cfg.Host, "/") + cfg.SnapshotPath,
	}

	if cfg.Exposure > 0 {
		if err := c.setExposure(ctx, cfg.Exposure); err != nil {
			c.Close()
			return nil, err
		}
	}
	if _, err := c.Capture(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("camera %s: probe capture: %w", cfg.Name, err)
	}

	log.Printf("Camera %s: connected to %s", cfg.Name, cfg.Host)
	return c, nil
}

// Capture fetches one JPEG frame.
func (c *HTTPCamera) Capture(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bad status: %s, error: %s", resp.Status, body)
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return frame, nil
}

func (c *HTTPCamera) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPCamera) setExposure(ctx context.Context, exposure int) error {
	q := url.Values{}
	q.Set("action", "update")
	q.Set("ImageSource.I0.Sensor.MaxExposureTime", strconv.Itoa(exposure))
	u := strings.TrimRight(c.cfg.Host, "/") + exposurePath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("camera %s: create exposure request: %w", c.cfg.Name, err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("camera %s: set exposure: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera %s: set exposure: bad status %s", c.cfg.Name, resp.Status)
	}
	return nil
}

func (c *HTTPCamera) authorize(req *http.Request) {
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}
