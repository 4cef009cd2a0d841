package genapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/job"
)

var testRouting = Routing{ProjectID: "proj-1", ProductID: "prod-9"}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, testRouting, opts...)
	require.NoError(t, err)
	return client
}

func testSubmitRequest() SubmitRequest {
	return SubmitRequest{
		Images: []imagebuf.Image{
			{Index: 0, Data: []byte("\x89PNG\r\n\x1a\nfirst"), MIME: "image/png"},
			{Index: 3, Data: []byte("\xff\xd8\xffsecond"), MIME: "image/jpeg"},
		},
		Params: job.Parameters{
			Prompt:          "a lighthouse at dusk",
			Model:           job.ModelStandard,
			DurationSeconds: 8,
			AspectRatio:     "9:16",
			Resolution:      "720p",
			Seed:            42,
		},
		Identity: Identity{UserID: 239, Email: "user@example.com"},
	}
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, msg string, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}

func TestNewClient(t *testing.T) {
	t.Run("missing base URL", func(t *testing.T) {
		_, err := NewClient("  ", testRouting)
		assert.ErrorIs(t, err, ErrBaseURLRequired)
	})

	t.Run("missing routing", func(t *testing.T) {
		_, err := NewClient("http://localhost", Routing{ProjectID: "p"})
		assert.ErrorIs(t, err, ErrRoutingRequired)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := NewClient("http://localhost:39603/", testRouting)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:39603", c.baseURL)
		assert.Equal(t, EnvProduction, c.env)
		assert.True(t, c.needWait)
		assert.Equal(t, 60*time.Second, c.httpClient.Timeout)
	})

	t.Run("options", func(t *testing.T) {
		c, err := NewClient("http://localhost", testRouting,
			WithEnvironment(EnvFake), WithNeedWait(false), WithTimeout(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, EnvFake, c.env)
		assert.False(t, c.needWait)
		assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	})
}

func TestSubmitJob_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/go/v_r_a", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		files := r.MultipartForm.File
		require.Len(t, files["file0"], 1)
		require.Len(t, files["file1"], 1)
		assert.Equal(t, "image_0.png", files["file0"][0].Filename)
		assert.Equal(t, "image/png", files["file0"][0].Header.Get("Content-Type"))
		assert.Equal(t, "image_1.jpg", files["file1"][0].Filename)

		f, err := files["file1"][0].Open()
		require.NoError(t, err)
		content, _ := io.ReadAll(f)
		_ = f.Close()
		assert.Equal(t, "\xff\xd8\xffsecond", string(content))

		var param submitParam
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("param")), &param))
		assert.Equal(t, submitParam{
			UID:         239,
			Email:       "user@example.com",
			Prompt:      "a lighthouse at dusk",
			ProjectID:   "proj-1",
			ProductID:   "prod-9",
			Model:       "1",
			Duration:    8,
			Audio:       true,
			AspectRatio: "9:16",
			Resolution:  "720p",
			Opt:         "3",
			T:           "1",
			NeedWait:    true,
			Seed:        42,
			BGM:         false,
		}, param)

		writeEnvelope(t, w, 200, "ok", map[string]any{"task_id": "task-77", "jifen": 940})
	}, WithEnvironment(EnvTest))

	handle, err := client.SubmitJob(context.Background(), testSubmitRequest())
	require.NoError(t, err)
	assert.Equal(t, "task-77", handle.JobID)
	require.NotNil(t, handle.InitialBalance)
	assert.InDelta(t, 940.0, *handle.InitialBalance, 0.0001)
}

func TestSubmitJob_AudioFlag(t *testing.T) {
	tests := []struct {
		name      string
		mute      bool
		wantAudio bool
	}{
		{"zero value keeps audio", false, true},
		{"muted", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var param submitParam
				require.NoError(t, json.Unmarshal([]byte(r.FormValue("param")), &param))
				assert.Equal(t, tt.wantAudio, param.Audio)
				writeEnvelope(t, w, 200, "", map[string]any{"task_id": "t1"})
			})

			req := testSubmitRequest()
			req.Params = job.Parameters{Prompt: "tide pools"}.WithDefaults()
			req.Params.MuteAudio = tt.mute
			_, err := client.SubmitJob(context.Background(), req)
			require.NoError(t, err)
		})
	}
}

func TestSubmitJob_NumericTaskIDAndStringBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, "", map[string]any{"task_id": 12345, "jifen": "88.5"})
	})

	handle, err := client.SubmitJob(context.Background(), testSubmitRequest())
	require.NoError(t, err)
	assert.Equal(t, "12345", handle.JobID)
	require.NotNil(t, handle.InitialBalance)
	assert.InDelta(t, 88.5, *handle.InitialBalance, 0.0001)
}

func TestSubmitJob_NoBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, "", map[string]any{"task_id": "t1"})
	})

	handle, err := client.SubmitJob(context.Background(), testSubmitRequest())
	require.NoError(t, err)
	assert.Nil(t, handle.InitialBalance)
}

func TestSubmitJob_UnreadableBalanceIsIgnored(t *testing.T) {
	tests := []struct {
		name  string
		jifen any
	}{
		{"placeholder string", "n/a"},
		{"not a number", "NaN"},
		{"infinite", "Inf"},
		{"object", map[string]any{"left": 5}},
		{"array", []int{1, 2}},
		{"bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 200, "", map[string]any{"task_id": "abc", "jifen": tt.jifen})
			})

			handle, err := client.SubmitJob(context.Background(), testSubmitRequest())
			require.NoError(t, err)
			assert.Equal(t, "abc", handle.JobID)
			assert.Nil(t, handle.InitialBalance)
		})
	}
}

func TestSubmitJob_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "insufficient credits",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, CodeInsufficientCredits, "not enough credits", nil)
			},
			wantErr: ErrInsufficientCredits,
		},
		{
			name: "business error code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 500123, "model busy", nil)
			},
			wantErr: ErrRequestFailed,
		},
		{
			name: "success code without data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 200, "ok", nil)
			},
			wantErr: ErrRequestFailed,
		},
		{
			name: "success without task id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 200, "ok", map[string]any{"jifen": 3})
			},
			wantErr: ErrRequestFailed,
		},
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			wantErr: ErrRequestFailed,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			wantErr: ErrRequestFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.SubmitJob(context.Background(), testSubmitRequest())
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == ErrRequestFailed {
				assert.NotErrorIs(t, err, ErrInsufficientCredits)
			}
		})
	}
}

func TestSubmitJob_APIErrorCarriesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, CodeInsufficientCredits, "please recharge", nil)
	})

	_, err := client.SubmitJob(context.Background(), testSubmitRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "submit", apiErr.Op)
	assert.Equal(t, CodeInsufficientCredits, apiErr.Code)
	assert.Equal(t, "please recharge", apiErr.Msg)
}

func TestSubmitJob_DoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := client.SubmitJob(context.Background(), testSubmitRequest())
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitJob_NoImages(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	req := testSubmitRequest()
	req.Images = nil
	_, err := client.SubmitJob(context.Background(), req)
	assert.ErrorIs(t, err, ErrImagesRequired)
	assert.Zero(t, calls.Load())
}

func TestSubmitJob_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.SubmitJob(ctx, testSubmitRequest())
	require.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchStatus_Request(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/go/v_r_a/get_task_detail", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req statusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, statusRequest{
			UID:       239,
			TaskID:    "task-77",
			ProjectID: "proj-1",
			ProductID: "prod-9",
			MyT:       "1",
		}, req)

		writeEnvelope(t, w, 200, "", map[string]any{"status": "0"})
	})

	report, err := client.FetchStatus(context.Background(), StatusRequest{JobID: "task-77", UserID: 239})
	require.NoError(t, err)
	assert.Equal(t, StatePending, report.State)
}

func TestFetchStatus_AllStates(t *testing.T) {
	balance := 120.0

	tests := []struct {
		name        string
		data        map[string]any
		wantState   State
		wantURL     string
		wantBalance *float64
	}{
		{"running", map[string]any{"status": "0"}, StatePending, "", nil},
		{"unknown status keeps polling", map[string]any{"status": "queued"}, StatePending, "", nil},
		{"numeric running", map[string]any{"status": 0}, StatePending, "", nil},
		{"succeeded", map[string]any{"status": "1", "video_url": "http://x/video.mp4", "credits": 120}, StateSucceeded, "http://x/video.mp4", &balance},
		{"succeeded without credits", map[string]any{"status": "1", "video_url": "http://x/video.mp4"}, StateSucceeded, "http://x/video.mp4", nil},
		{"numeric succeeded", map[string]any{"status": 1, "video_url": "http://x/v.webm"}, StateSucceeded, "http://x/v.webm", nil},
		{"failed", map[string]any{"status": "2"}, StateFailed, "", nil},
		{"succeeded with unreadable credits", map[string]any{"status": "1", "video_url": "http://x/video.mp4", "credits": "lots"}, StateSucceeded, "http://x/video.mp4", nil},
		{"succeeded with structured credits", map[string]any{"status": "1", "video_url": "http://x/video.mp4", "credits": map[string]any{"left": 5}}, StateSucceeded, "http://x/video.mp4", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 200, "", tt.data)
			})

			report, err := client.FetchStatus(context.Background(), StatusRequest{JobID: "j", UserID: 1})
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, report.State)
			assert.Equal(t, tt.wantURL, report.MediaURL)
			if tt.wantBalance == nil {
				assert.Nil(t, report.UpdatedBalance)
			} else {
				require.NotNil(t, report.UpdatedBalance)
				assert.InDelta(t, *tt.wantBalance, *report.UpdatedBalance, 0.0001)
			}
		})
	}
}

func TestFetchStatus_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "success without media url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 200, "", map[string]any{"status": "1", "credits": 5})
			},
			wantErr: ErrMalformedSuccess,
		},
		{
			name: "insufficient credits",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, CodeInsufficientCredits, "", nil)
			},
			wantErr: ErrInsufficientCredits,
		},
		{
			name: "other code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, 404, "task not found", nil)
			},
			wantErr: ErrRequestFailed,
		},
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: ErrRequestFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.FetchStatus(context.Background(), StatusRequest{JobID: "j", UserID: 1})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetchStatus_EmptyJobID(t *testing.T) {
	client, err := NewClient("http://localhost", testRouting)
	require.NoError(t, err)

	_, err = client.FetchStatus(context.Background(), StatusRequest{})
	assert.ErrorIs(t, err, ErrJobIDRequired)
}

func TestFetchStatus_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(url, testRouting)
	require.NoError(t, err)

	_, err = client.FetchStatus(context.Background(), StatusRequest{JobID: "j"})
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestDownloadMedia(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if r.URL.Path == "/missing.mp4" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("video-bytes"))
	})

	rc, err := client.DownloadMedia(context.Background(), client.baseURL+"/video.mp4")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "video-bytes", string(data))

	_, err = client.DownloadMedia(context.Background(), client.baseURL+"/missing.mp4")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404"))

	_, err = client.DownloadMedia(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoMediaURL)
}

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in       string
		want     Environment
		wantCode string
	}{
		{"", EnvProduction, "0"},
		{"production", EnvProduction, "0"},
		{"0", EnvProduction, "0"},
		{"test", EnvTest, "1"},
		{"1", EnvTest, "1"},
		{"FAKE", EnvFake, "2"},
		{"2", EnvFake, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEnvironment(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCode, got.Code())
		})
	}

	_, err := ParseEnvironment("staging")
	assert.ErrorIs(t, err, ErrUnknownEnvironment)
}

func TestIsVideoURL(t *testing.T) {
	assert.True(t, IsVideoURL("http://x/video.mp4"))
	assert.True(t, IsVideoURL("https://cdn/x.WEBM?sig=abc"))
	assert.True(t, IsVideoURL("https://cdn/x.ogg"))
	assert.False(t, IsVideoURL("https://cdn/x.png"))
	assert.False(t, IsVideoURL("https://cdn/mp4/frame.jpg"))
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.True(t, StateSucceeded.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}
