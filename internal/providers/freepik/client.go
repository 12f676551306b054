package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// Options configures the Freepik generation client.
type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	SubmitTimeout time.Duration
	StatusTimeout time.Duration
}

// Client performs HTTP calls to the Freepik image-to-video API. Every call is
// a direct pass-through; resilience is the caller's concern.
type Client struct {
	apiKey        string
	baseURL       string
	model         string
	httpClient    *http.Client
	logger        *infra.Logger
	submitTimeout time.Duration
	statusTimeout time.Duration
}

// SubmitRequest captures the inputs forwarded to the generate endpoint.
type SubmitRequest struct {
	Image          string   `json:"image"`
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Duration       string   `json:"duration,omitempty"`
	Mode           string   `json:"mode,omitempty"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"`
	CFGScale       *float64 `json:"cfg_scale,omitempty"`
}

// SubmitResponse is the provider's immediate acknowledgement of a task.
type SubmitResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Raw    json.RawMessage `json:"-"`
}

// StatusResponse is the provider's view of an in-flight or finished task.
type StatusResponse struct {
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	Generated []string        `json:"generated"`
	Raw       json.RawMessage `json:"-"`
}

type taskEnvelope struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.freepik.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "kling-v2"
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	statusTimeout := opts.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = 10 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		model:         model,
		httpClient:    httpClient,
		logger:        logger,
		submitTimeout: submitTimeout,
		statusTimeout: statusTimeout,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Submit sends a generation request and returns the provider's acknowledgement
// including the task identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if strings.TrimSpace(req.Image) == "" {
		return nil, fmt.Errorf("%w: image is required", domain.ErrValidation)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("freepik: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	endpoint := c.baseURL + "/ai/image-to-video/" + c.model
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, rejectionError(status, raw)
	}

	var decoded taskEnvelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("freepik: decode response: %w", err)
	}
	if decoded.Data.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task id in response", domain.ErrProviderRejected)
	}

	c.logger.Debug().
		Str("model", c.model).
		Str("task_id", decoded.Data.TaskID).
		Str("status", decoded.Data.Status).
		Msg("freepik: task submitted")

	return &SubmitResponse{TaskID: decoded.Data.TaskID, Status: decoded.Data.Status, Raw: raw}, nil
}

// PollStatus fetches the provider's current status for taskID.
func (c *Client) PollStatus(ctx context.Context, taskID string) (*StatusResponse, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	endpoint := c.baseURL + "/ai/image-to-video/" + c.model + "/" + taskID
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}
	if status >= 300 {
		return nil, rejectionError(status, raw)
	}

	var decoded taskEnvelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("freepik: decode response: %w", err)
	}

	return &StatusResponse{
		TaskID:    decoded.Data.TaskID,
		Status:    decoded.Data.Status,
		Generated: decoded.Data.Generated,
		Raw:       raw,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("freepik: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-freepik-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, method, endpoint)
		}
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", domain.ErrProviderUnavailable, err)
	}
	return raw, resp.StatusCode, nil
}

func rejectionError(status int, raw []byte) error {
	var detail struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
		return fmt.Errorf("%w: status %d: %s", domain.ErrProviderRejected, status, detail.Message)
	}
	return fmt.Errorf("%w: status %d: %s", domain.ErrProviderRejected, status, strings.TrimSpace(string(raw)))
}
