// Package genapi provides an HTTP client for the image(s)-to-video generation
// service: job submission, status lookup, and media download.
package genapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/job"
)

// Business codes carried in the response envelope.
const (
	CodeSuccess             = 200
	CodeInsufficientCredits = 1000018
)

// Fixed request discriminators.
const (
	// modeRefToAudioVideo selects "reference image(s) to video with audio".
	modeRefToAudioVideo = "3"
	// fetchModeDetail selects the detailed status lookup.
	fetchModeDetail = "1"
)

// State is the generation state reported by a status lookup.
type State string

// Job states as seen by the client.
const (
	StatePending   State = "PENDING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// IsTerminal returns true if the state is final.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Environment selects how the service treats the request.
type Environment string

const (
	// EnvProduction runs a real generation.
	EnvProduction Environment = "production"
	// EnvTest runs against the service's test path.
	EnvTest Environment = "test"
	// EnvFake makes the service return canned data.
	EnvFake Environment = "fake"
)

// Code returns the wire value of the environment flag.
func (e Environment) Code() string {
	switch e {
	case EnvTest:
		return "1"
	case EnvFake:
		return "2"
	default:
		return "0"
	}
}

// ParseEnvironment accepts an environment name or its wire code.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod", "0":
		return EnvProduction, nil
	case "test", "1":
		return EnvTest, nil
	case "fake", "test-fake", "2":
		return EnvFake, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, s)
	}
}

// Identity identifies the user on whose behalf jobs run.
type Identity struct {
	UserID int64
	Email  string // optional
}

// Routing carries the project/product identifiers the service routes on.
type Routing struct {
	ProjectID string
	ProductID string
}

// SubmitRequest is everything a job submission carries.
type SubmitRequest struct {
	Images   []imagebuf.Image
	Params   job.Parameters
	Identity Identity
}

// StatusRequest identifies the job to look up.
type StatusRequest struct {
	JobID  string
	UserID int64
}

// JobHandle is returned by a successful submission.
type JobHandle struct {
	JobID string
	// InitialBalance is the credit balance after the submission was charged,
	// nil when the service did not report one.
	InitialBalance *float64
}

// StatusReport is the result of one status lookup.
type StatusReport struct {
	State State
	// MediaURL is set iff State is StateSucceeded.
	MediaURL string
	// UpdatedBalance is nil when the service did not report one.
	UpdatedBalance *float64
}

var videoURLPattern = regexp.MustCompile(`(?i)\.(mp4|webm|ogg)(\?.*)?$`)

// IsVideoURL reports whether the media URL points at a video file rather
// than a still image.
func IsVideoURL(u string) bool {
	return videoURLPattern.MatchString(u)
}

// envelope is the common response wrapper of both endpoints.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// submitParam is the JSON carried in the "param" multipart field.
type submitParam struct {
	UID         int64  `json:"uid"`
	Email       string `json:"email"`
	Prompt      string `json:"prompt"`
	ProjectID   string `json:"project_id"`
	ProductID   string `json:"product_id"`
	Model       string `json:"model"`
	Duration    int    `json:"duration"`
	Audio       bool   `json:"audio"`
	AspectRatio string `json:"aspect_ratio"`
	Resolution  string `json:"resolution"`
	Opt         string `json:"opt"`
	T           string `json:"t"`
	NeedWait    bool   `json:"need_wait"`
	Seed        int64  `json:"seed"`
	BGM         bool   `json:"bgm"`
}

// submitData is the "data" object of a submission response.
type submitData struct {
	TaskID flexString `json:"task_id"`
	Jifen  flexNumber `json:"jifen"`
}

// statusRequest is the body of a status lookup.
type statusRequest struct {
	UID       int64  `json:"uid"`
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	ProductID string `json:"product_id"`
	MyT       string `json:"my_t"`
}

// statusData is the "data" object of a status response.
type statusData struct {
	Status   flexString `json:"status"`
	VideoURL string     `json:"video_url"`
	Credits  flexNumber `json:"credits"`
}

// Wire status codes.
const (
	wireStatusRunning   = "0"
	wireStatusSucceeded = "1"
	wireStatusFailed    = "2"
)

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("genapi: expected string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// flexNumber decodes a JSON number or numeric string. Anything else (null,
// "", "n/a", objects, arrays, NaN, Inf) leaves it unset: balances are
// informational and must not fail the response they ride on.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	*n = flexNumber{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	raw := string(b)
	switch b[0] {
	case '"':
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		raw = strings.TrimSpace(raw)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
	default:
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

// ptr returns a pointer to the value, or nil when unset.
func (n flexNumber) ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}
