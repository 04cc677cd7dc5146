package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"annexbot/internal/domain"
)

func testClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test",
		BaseURL:    "https://api.kie.test",
		UploadBase: "https://upload.kie.test",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func mustModel(t *testing.T, id string) domain.Model {
	t.Helper()
	m, ok := domain.ModelByID(id)
	if !ok {
		t.Fatalf("unknown model %q", id)
	}
	return m
}

func testJob(t *testing.T, modelID string) domain.Job {
	return domain.Job{
		ID:       "job-1",
		TgID:     77,
		ChatID:   500,
		Model:    mustModel(t, modelID),
		Settings: domain.Settings{OutputFormat: "auto", Resolution: "2k", AspectRatio: "auto"},
		Prompt:   "a red fox",
	}
}

func TestUploadInputPrefersDownloadURL(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/file-url-upload", map[string]any{
		"code": 200,
		"data": map[string]any{
			"downloadUrl": "https://cdn.kie.test/a.jpg",
			"fileUrl":     "https://files.kie.test/a.jpg",
		},
	})
	client := testClient(t, transport)

	hosted, err := client.UploadInput(context.Background(), "https://tg.example/file.jpg", "input-1.jpg")
	if err != nil {
		t.Fatalf("UploadInput: %v", err)
	}
	if hosted != "https://cdn.kie.test/a.jpg" {
		t.Fatalf("hosted = %q, want downloadUrl", hosted)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["fileUrl"] != "https://tg.example/file.jpg" {
		t.Fatalf("fileUrl = %v", payload["fileUrl"])
	}
	if payload["fileName"] != "input-1.jpg" {
		t.Fatalf("fileName = %v", payload["fileName"])
	}
}

func TestUploadInputFallsBackToFileURL(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/file-url-upload", map[string]any{
		"code": 200,
		"data": map[string]any{"fileUrl": "https://files.kie.test/a.jpg"},
	})
	client := testClient(t, transport)

	hosted, err := client.UploadInput(context.Background(), "https://tg.example/file.jpg", "input-1.jpg")
	if err != nil {
		t.Fatalf("UploadInput: %v", err)
	}
	if hosted != "https://files.kie.test/a.jpg" {
		t.Fatalf("hosted = %q, want fileUrl fallback", hosted)
	}
}

func TestCreateTaskPromotesBaseModelWhenInputsPresent(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 200,
		"data": map[string]any{"taskId": "task-42"},
	})
	client := testClient(t, transport)

	taskID, err := client.CreateTask(context.Background(), testJob(t, domain.ModelNanoBanana),
		[]string{"https://cdn.kie.test/in.jpg"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if taskID != "task-42" {
		t.Fatalf("taskID = %q", taskID)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != domain.ModelNanoBananaEdit {
		t.Fatalf("model = %v, want promotion to edit variant", payload["model"])
	}
	input := payload["input"].(map[string]any)
	urls := input["image_urls"].([]any)
	if len(urls) != 1 || urls[0] != "https://cdn.kie.test/in.jpg" {
		t.Fatalf("image_urls = %v", urls)
	}
	if input["output_format"] != "png" {
		t.Fatalf("output_format = %v, want auto mapped to png", input["output_format"])
	}
	if input["image_size"] != "1:1" {
		t.Fatalf("image_size = %v, want auto mapped to 1:1", input["image_size"])
	}
}

func TestCreateTaskBaseModelWithoutInputs(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 200,
		"data": map[string]any{"taskId": "task-42"},
	})
	client := testClient(t, transport)

	if _, err := client.CreateTask(context.Background(), testJob(t, domain.ModelNanoBanana), nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != domain.ModelNanoBanana {
		t.Fatalf("model = %v, want no promotion without inputs", payload["model"])
	}
	input := payload["input"].(map[string]any)
	if _, ok := input["image_urls"]; ok {
		t.Fatal("image_urls should be omitted without inputs")
	}
}

func TestCreateTaskProDialect(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 200,
		"data": map[string]any{"taskId": "task-42"},
	})
	client := testClient(t, transport)

	job := testJob(t, domain.ModelNanoBananaPro)
	job.Settings.Resolution = "4k"
	job.Settings.AspectRatio = "16:9"
	if _, err := client.CreateTask(context.Background(), job, []string{"https://cdn.kie.test/in.jpg"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != domain.ModelNanoBananaPro {
		t.Fatalf("model = %v", payload["model"])
	}
	input := payload["input"].(map[string]any)
	if input["resolution"] != "4K" {
		t.Fatalf("resolution = %v, want uppercased", input["resolution"])
	}
	if input["aspect_ratio"] != "16:9" {
		t.Fatalf("aspect_ratio = %v", input["aspect_ratio"])
	}
	if _, ok := input["image_input"]; !ok {
		t.Fatal("image_input missing from pro payload")
	}
	if _, ok := input["image_urls"]; ok {
		t.Fatal("image_urls does not belong in the pro dialect")
	}
}

func TestCreateTaskFluxDialect(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 200,
		"data": map[string]any{"taskId": "task-42"},
	})
	client := testClient(t, transport)

	if _, err := client.CreateTask(context.Background(), testJob(t, domain.ModelFlux),
		[]string{"https://cdn.kie.test/in.jpg"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	input := payload["input"].(map[string]any)
	if _, ok := input["input_urls"]; !ok {
		t.Fatal("input_urls missing from flux payload")
	}
}

func TestCreateTaskEmptyTaskIDIsError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 200,
		"data": map[string]any{},
	})
	client := testClient(t, transport)

	if _, err := client.CreateTask(context.Background(), testJob(t, domain.ModelNanoBanana), nil); err == nil {
		t.Fatal("expected error for empty taskId")
	}
}

func TestCreateTaskEnvelopeErrorSurfaces(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/jobs/createTask", map[string]any{
		"code": 402,
		"msg":  "insufficient credits",
	})
	client := testClient(t, transport)

	_, err := client.CreateTask(context.Background(), testJob(t, domain.ModelNanoBanana), nil)
	if err == nil || !strings.Contains(err.Error(), "insufficient credits") {
		t.Fatalf("err = %v, want envelope message", err)
	}
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want a provider failure", err)
	}
}

func TestPollTaskFallsBackToFailMsg(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("https://api.kie.test/api/v1/jobs/recordInfo?taskId=task-42", map[string]any{
		"code": 200,
		"data": map[string]any{
			"taskId":  "task-42",
			"state":   "failed",
			"failMsg": "flagged prompt",
		},
	})
	client := testClient(t, transport)

	status, err := client.PollTask(context.Background(), "task-42")
	if err != nil {
		t.Fatalf("PollTask: %v", err)
	}
	if status.State != "failed" || status.FailReason != "flagged prompt" {
		t.Fatalf("status = %+v", status)
	}
}

func TestPollTaskCarriesResultJSON(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("https://api.kie.test/api/v1/jobs/recordInfo?taskId=task-42", map[string]any{
		"code": 200,
		"data": map[string]any{
			"taskId":     "task-42",
			"state":      "success",
			"resultJson": `{"resultUrls":["https://cdn.kie.test/out.png"]}`,
		},
	})
	client := testClient(t, transport)

	status, err := client.PollTask(context.Background(), "task-42")
	if err != nil {
		t.Fatalf("PollTask: %v", err)
	}
	if !strings.Contains(status.ResultJSON, "resultUrls") {
		t.Fatalf("resultJson = %q", status.ResultJSON)
	}
}

func TestMissingCredentials(t *testing.T) {
	client, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.UploadInput(context.Background(), "https://x", "f"); err != ErrMissingAPIKey {
		t.Fatalf("UploadInput err = %v", err)
	}
	if _, err := client.CreateTask(context.Background(), domain.Job{}, nil); err != ErrMissingAPIKey {
		t.Fatalf("CreateTask err = %v", err)
	}
	if _, err := client.PollTask(context.Background(), "t"); err != ErrMissingAPIKey {
		t.Fatalf("PollTask err = %v", err)
	}
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
