package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callviewhq/callview/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/transcribe", r.URL.Path)
			assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			assert.Equal(t, "call.mp3", hdr.Filename)

			w.Write([]byte(
				`{"segments":[{"speaker":"manager","text":"hi","timestamp":"0:00"}]}`,
			))
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k")
	segments, err := c.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"speaker":"manager","text":"hi","timestamp":"0:00"}]`,
		segments,
	)
}

func TestTranscribeEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Transcribe(context.Background(), writeAudio(t))
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/analyze", r.URL.Path)

			var req struct {
				Segments   json.RawMessage   `json:"segments"`
				Categories []string          `json:"categories"`
				Criteria   map[string]string `json:"criteria"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"Sales"}, req.Categories)

			w.Write([]byte(`{
				"category": "Sales",
				"criteria_scores": {"Greeting": 80, "Closing": 60},
				"category_mistakes": {
					"Sales": {"talked over client": {
						"count": 2, "recommendation": "pause", "tag": "listening"
					}}
				},
				"client_complaints": {
					"price": {"count": 1, "examples": ["too expensive"],
						"text_counts": {"too expensive": 1}}
				}
			}`))
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	res, err := c.Analyze(
		context.Background(), `[]`,
		[]string{"Sales"}, map[string]string{"Greeting": "Sales"},
	)
	require.NoError(t, err)

	assert.Equal(t, "Sales", res.Category)
	assert.Equal(t, 2, res.Mistakes["Sales"]["talked over client"].Count)
	assert.Equal(t, 1, res.Complaints["price"].Count)
	assert.Equal(t, 70.0, res.OverallScore())
}

func TestOverallScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Result{}.OverallScore())
}

func TestRetryOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"category":"Sales"}`))
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	res, err := c.Analyze(context.Background(), `[]`, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Sales", res.Category)
	assert.Equal(t, 2, calls)
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "bad transcript", http.StatusBadRequest)
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Analyze(context.Background(), `[]`, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, 1, calls)
}

func TestAnalyzeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.Analyze(ctx, `[]`, nil, nil)
	assert.Error(t, err)
}
