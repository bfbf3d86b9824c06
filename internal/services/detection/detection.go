package detection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/distributed-led-scanner/internal/models"
	"github.com/Capitan-Parrot/distributed-led-scanner/internal/scan"
)

const defaultTimeout = 10 * time.Second

// Client locates the brightest lit spot in a frame via the detection service.
type Client struct {
	URL    string
	client *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{URL: baseURL, client: &http.Client{Timeout: timeout}}
}

// locateResponse ответ сервиса детекции
type locateResponse struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Locate captures a frame from cam and sends it to /locate. A nil point means
// no spot brighter than threshold was found.
func (c *Client) Locate(ctx context.Context, cam scan.Camera, threshold int) (*models.Point, error) {
	frame, err := cam.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return c.SendFrame(ctx, frame, threshold)
}

// SendFrame отправляет изображение JPEG байтами на /locate
func (c *Client) SendFrame(ctx context.Context, imageData []byte, threshold int) (*models.Point, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Создаем form field с правильным Content-Type
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	endpoint := c.URL + "/locate?threshold=" + strconv.Itoa(threshold)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes)
	}

	var out locateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !out.Found {
		return nil, nil
	}
	if out.X < 0 || out.X > 1 || out.Y < 0 || out.Y > 1 {
		return nil, fmt.Errorf("point (%v, %v) outside normalized range", out.X, out.Y)
	}
	return &models.Point{X: out.X, Y: out.Y}, nil
}
