package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"annexbot/internal/domain"
	"annexbot/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

// Options configures the Kie.ai jobs client.
type Options struct {
	APIKey         string
	BaseURL        string
	UploadBase     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Kie.ai task API: file mirroring, task
// creation, and task polling. It satisfies the generation gateway contract.
type Client struct {
	apiKey     string
	baseURL    string
	uploadBase string
	httpClient *http.Client
	logger     *infra.Logger
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e apiEnvelope) errorText() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

type uploadData struct {
	DownloadURL string `json:"downloadUrl"`
	FileURL     string `json:"fileUrl"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailReason string `json:"failReason"`
	FailMsg    string `json:"failMsg"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	uploadBase := strings.TrimRight(opts.UploadBase, "/")
	if uploadBase == "" {
		uploadBase = "https://kieai.redpandaai.co"
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
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		uploadBase: uploadBase,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// UploadInput mirrors a source file to Kie-reachable storage and returns
// the hosted URL.
func (c *Client) UploadInput(ctx context.Context, sourceURL, fileName string) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	payload := map[string]string{
		"fileUrl":    sourceURL,
		"uploadPath": "telegram",
		"fileName":   fileName,
	}
	raw, err := c.post(ctx, c.uploadBase+"/api/file-url-upload", payload)
	if err != nil {
		return "", err
	}
	var data uploadData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("kie: decode upload response: %w", err)
	}
	hosted := data.DownloadURL
	if hosted == "" {
		hosted = data.FileURL
	}
	if hosted == "" {
		return "", errors.New("kie: upload returned no url")
	}
	c.logger.Debug().Str("file_name", fileName).Str("url", hosted).Msg("kie: uploaded input")
	return hosted, nil
}

// CreateTask submits a generation job and returns the provider task id.
func (c *Client) CreateTask(ctx context.Context, job domain.Job, inputURLs []string) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	req, err := buildTaskRequest(job, inputURLs)
	if err != nil {
		return "", err
	}
	raw, err := c.post(ctx, c.baseURL+"/api/v1/jobs/createTask", req)
	if err != nil {
		return "", err
	}
	var data createTaskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", fmt.Errorf("kie: decode createTask response: %w", err)
	}
	if strings.TrimSpace(data.TaskID) == "" {
		return "", errors.New("kie: createTask returned empty taskId")
	}
	c.logger.Debug().Str("model", req.Model).Str("task_id", data.TaskID).
		Int("inputs", len(inputURLs)).Msg("kie: created task")
	return data.TaskID, nil
}

// PollTask fetches the current state of a task.
func (c *Client) PollTask(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	if !c.HasCredentials() {
		return domain.TaskStatus{}, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/api/v1/jobs/recordInfo?taskId=" + url.QueryEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.TaskStatus{}, fmt.Errorf("kie: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	raw, err := c.do(httpReq)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	var data recordInfoData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.TaskStatus{}, fmt.Errorf("kie: decode recordInfo response: %w", err)
	}
	failReason := data.FailReason
	if failReason == "" {
		failReason = data.FailMsg
	}
	return domain.TaskStatus{
		State:      data.State,
		ResultJSON: data.ResultJSON,
		FailReason: failReason,
	}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kie: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(httpReq)
}

// do executes the request and unwraps the API envelope, returning the data
// payload.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kie: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kie: read response: %w", err)
	}
	var envelope apiEnvelope
	if resp.StatusCode >= 300 {
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.errorText() != "" {
			return nil, fmt.Errorf("kie: %w: %s (code %d)", domain.ErrProviderFailure, envelope.errorText(), envelope.Code)
		}
		return nil, fmt.Errorf("kie: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("kie: decode response: %w", err)
	}
	if envelope.Code != 0 && envelope.Code != 200 {
		return nil, fmt.Errorf("kie: %w: %s (code %d)", domain.ErrProviderFailure, envelope.errorText(), envelope.Code)
	}
	return envelope.Data, nil
}
