package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Static errors for client operations.
var (
	// ErrBaseURLRequired is returned when the service base URL is not provided.
	ErrBaseURLRequired = errors.New("genapi: base URL is required")
	// ErrRoutingRequired is returned when project or product ID is missing.
	ErrRoutingRequired = errors.New("genapi: project ID and product ID are required")
	// ErrUnknownEnvironment is returned by ParseEnvironment for unknown input.
	ErrUnknownEnvironment = errors.New("genapi: unknown environment")
	// ErrImagesRequired is returned when a submission carries no images.
	ErrImagesRequired = errors.New("genapi: at least one image is required")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("genapi: job ID is required")
	// ErrInsufficientCredits is returned when the account balance cannot cover the job.
	ErrInsufficientCredits = errors.New("genapi: insufficient credits")
	// ErrRequestFailed is returned for transport failures, non-success codes
	// and malformed responses.
	ErrRequestFailed = errors.New("genapi: request failed")
	// ErrMalformedSuccess is returned when a job reports success without a media URL.
	ErrMalformedSuccess = errors.New("genapi: success reported without media URL")
	// ErrNoMediaURL is returned when a download is requested for an empty URL.
	ErrNoMediaURL = errors.New("genapi: media URL is required")
)

// APIError is a business-level rejection: the service answered, but with a
// code other than CodeSuccess. It matches ErrInsufficientCredits or
// ErrRequestFailed with errors.Is, depending on the code.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("genapi: %s: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("genapi: %s: code %d: %s", e.Op, e.Code, e.Msg)
}

// Unwrap maps the code onto the error taxonomy.
func (e *APIError) Unwrap() error {
	if e.Code == CodeInsufficientCredits {
		return ErrInsufficientCredits
	}
	return ErrRequestFailed
}

// Client defines the interface for interacting with the generation service.
type Client interface {
	// SubmitJob uploads the images and parameters and returns the job handle.
	// It performs exactly one request.
	SubmitJob(ctx context.Context, req SubmitRequest) (JobHandle, error)

	// FetchStatus looks up the current state of a job.
	FetchStatus(ctx context.Context, req StatusRequest) (StatusReport, error)
}

// HTTPClient is the HTTP implementation of the Client interface.
type HTTPClient struct {
	baseURL    string
	routing    Routing
	env        Environment
	needWait   bool
	httpClient *http.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		if d > 0 {
			hc.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithEnvironment sets the environment flag sent with submissions.
func WithEnvironment(env Environment) ClientOption {
	return func(hc *HTTPClient) {
		hc.env = env
	}
}

// WithNeedWait sets whether the job may wait in the service's queue.
func WithNeedWait(wait bool) ClientOption {
	return func(hc *HTTPClient) {
		hc.needWait = wait
	}
}

// NewClient creates a new generation service HTTP client.
// The base URL and both routing identifiers must be provided.
func NewClient(baseURL string, routing Routing, opts ...ClientOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if routing.ProjectID == "" || routing.ProductID == "" {
		return nil, ErrRoutingRequired
	}

	c := &HTTPClient{
		baseURL:    baseURL,
		routing:    routing,
		env:        EnvProduction,
		needWait:   true,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SubmitJob sends the images and parameters as one multipart request.
func (c *HTTPClient) SubmitJob(ctx context.Context, req SubmitRequest) (JobHandle, error) {
	if len(req.Images) == 0 {
		return JobHandle{}, ErrImagesRequired
	}

	p := req.Params
	param := submitParam{
		UID:         req.Identity.UserID,
		Email:       req.Identity.Email,
		Prompt:      p.Prompt,
		ProjectID:   c.routing.ProjectID,
		ProductID:   c.routing.ProductID,
		Model:       string(p.Model),
		Duration:    p.DurationSeconds,
		Audio:       !p.MuteAudio,
		AspectRatio: p.AspectRatio,
		Resolution:  p.Resolution,
		Opt:         modeRefToAudioVideo,
		T:           c.env.Code(),
		NeedWait:    c.needWait,
		Seed:        p.Seed,
		BGM:         p.BackgroundMusic,
	}
	paramJSON, err := json.Marshal(param)
	if err != nil {
		return JobHandle{}, fmt.Errorf("genapi: marshal param: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, img := range req.Images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="file%d"; filename="image_%d%s"`, i, i, img.Extension()))
		contentType := img.MIME
		if contentType == "" {
			contentType = "image/jpeg"
		}
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return JobHandle{}, fmt.Errorf("genapi: create image part: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return JobHandle{}, fmt.Errorf("genapi: write image part: %w", err)
		}
	}
	if err := mw.WriteField("param", string(paramJSON)); err != nil {
		return JobHandle{}, fmt.Errorf("genapi: write param field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return JobHandle{}, fmt.Errorf("genapi: close multipart body: %w", err)
	}

	var env envelope
	if err := c.doRequest(ctx, c.baseURL+"/go/v_r_a", mw.FormDataContentType(), body.Bytes(), &env); err != nil {
		return JobHandle{}, err
	}

	if env.Code != CodeSuccess || !env.hasData() {
		return JobHandle{}, &APIError{Op: "submit", Code: env.Code, Msg: env.Msg}
	}

	var data submitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return JobHandle{}, fmt.Errorf("%w: decode submit data: %v", ErrRequestFailed, err)
	}
	if data.TaskID == "" {
		return JobHandle{}, fmt.Errorf("%w: no task ID returned", ErrRequestFailed)
	}

	return JobHandle{
		JobID:          string(data.TaskID),
		InitialBalance: data.Jifen.ptr(),
	}, nil
}

// FetchStatus looks up the current state of a job.
func (c *HTTPClient) FetchStatus(ctx context.Context, req StatusRequest) (StatusReport, error) {
	if req.JobID == "" {
		return StatusReport{}, ErrJobIDRequired
	}

	bodyBytes, err := json.Marshal(statusRequest{
		UID:       req.UserID,
		TaskID:    req.JobID,
		ProjectID: c.routing.ProjectID,
		ProductID: c.routing.ProductID,
		MyT:       fetchModeDetail,
	})
	if err != nil {
		return StatusReport{}, fmt.Errorf("genapi: marshal request: %w", err)
	}

	var env envelope
	if err := c.doRequest(ctx, c.baseURL+"/go/v_r_a/get_task_detail", "application/json", bodyBytes, &env); err != nil {
		return StatusReport{}, err
	}

	if env.Code != CodeSuccess || !env.hasData() {
		return StatusReport{}, &APIError{Op: "status", Code: env.Code, Msg: env.Msg}
	}

	var data statusData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return StatusReport{}, fmt.Errorf("%w: decode status data: %v", ErrRequestFailed, err)
	}

	switch string(data.Status) {
	case wireStatusSucceeded:
		if data.VideoURL == "" {
			return StatusReport{}, fmt.Errorf("%w: job %s", ErrMalformedSuccess, req.JobID)
		}
		return StatusReport{
			State:          StateSucceeded,
			MediaURL:       data.VideoURL,
			UpdatedBalance: data.Credits.ptr(),
		}, nil
	case wireStatusFailed:
		return StatusReport{State: StateFailed}, nil
	default:
		// "0" and anything unrecognized mean the job is still running.
		return StatusReport{State: StatePending}, nil
	}
}

// DownloadMedia opens the finished media for reading.
// The caller is responsible for closing the returned ReadCloser.
func (c *HTTPClient) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	if mediaURL == "" {
		return nil, ErrNoMediaURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("genapi: create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genapi: download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("genapi: download failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// doRequest performs a single POST and decodes the response envelope.
// Every failure is reported as ErrRequestFailed.
func (c *HTTPClient) doRequest(ctx context.Context, url, contentType string, body []byte, out *envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", ErrRequestFailed, err)
	}
	return nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
