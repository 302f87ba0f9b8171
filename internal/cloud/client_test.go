package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/project"
)

func modelResponse(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return body
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, "test-key", "test-model", nil,
		WithSleeper(func(time.Duration) {}))
}

func writeTestFrames(t *testing.T, count int) []string {
	t.Helper()
	dir := t.TempDir()
	frames := make([]string, count)
	for i := range frames {
		frames[i] = filepath.Join(dir, "frame.jpg")
		if err := os.WriteFile(frames[i], []byte("jpegdata"), 0o644); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	return frames
}

func TestHTTPClient_AnalyzeBatch(t *testing.T) {
	var gotReq messagesRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write(modelResponse(t, `[{"timestamp": 30, "description": "product reveal", "clip_worthy": true}]`))
	})

	scenes, err := client.AnalyzeBatch(context.Background(), writeTestFrames(t, 2), 30, 3)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	if len(scenes) != 1 || scenes[0].Timestamp != 30 || !scenes[0].ClipWorthy {
		t.Errorf("scenes = %+v", scenes)
	}

	if gotReq.Model != "test-model" {
		t.Errorf("request model = %s", gotReq.Model)
	}
	// One text prompt plus one image block per frame.
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 3 {
		t.Fatalf("content blocks = %d, want 3", len(gotReq.Messages[0].Content))
	}
	img := gotReq.Messages[0].Content[1]
	if img.Type != "image" || img.Source == nil || img.Source.MediaType != "image/jpeg" {
		t.Errorf("image block = %+v", img)
	}
}

func TestHTTPClient_AnalyzeBatch_FencedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelResponse(t, "```json\n[{\"timestamp\": 0, \"description\": \"intro\"}]\n```"))
	})

	scenes, err := client.AnalyzeBatch(context.Background(), writeTestFrames(t, 1), 0, 3)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v", err)
	}
	if len(scenes) != 1 || scenes[0].Description != "intro" {
		t.Errorf("scenes = %+v", scenes)
	}
}

func TestHTTPClient_AnalyzeBatch_MalformedJSONDropsBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelResponse(t, "I could not look at these images, sorry."))
	})

	scenes, err := client.AnalyzeBatch(context.Background(), writeTestFrames(t, 1), 0, 3)
	if err != nil {
		t.Fatalf("AnalyzeBatch() error = %v, want parse failure swallowed", err)
	}
	if scenes != nil {
		t.Errorf("scenes = %+v, want nil for dropped batch", scenes)
	}
}

func TestHTTPClient_AnalyzeBatch_EmptyInput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})

	scenes, err := client.AnalyzeBatch(context.Background(), nil, 0, 3)
	if err != nil || scenes != nil {
		t.Errorf("AnalyzeBatch(nil) = %v, %v", scenes, err)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(modelResponse(t, `[]`))
	})

	_, err := client.DetectClips(context.Background(), []project.SceneAnalysis{{Timestamp: 0}}, 30)
	if err != nil {
		t.Fatalf("DetectClips() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestHTTPClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.DetectClips(context.Background(), []project.SceneAnalysis{{Timestamp: 0}}, 30)
	if err == nil {
		t.Fatal("DetectClips() succeeded against a 400")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}

	// A 400 is a permanent failure in the job retry taxonomy too.
	if jobs.Retryable(err) {
		t.Error("client error should not be retryable")
	}
}

func TestHTTPClient_RateLimitIsRetryable(t *testing.T) {
	err := &APIError{StatusCode: http.StatusTooManyRequests}
	if !err.IsRetryable() {
		t.Error("429 should be retryable")
	}
	if !jobs.Retryable(err) {
		t.Error("jobs.Retryable should honor APIError.IsRetryable")
	}
}

func TestHTTPClient_GenerateCaption_FallbackOnParseFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelResponse(t, "definitely not JSON"))
	})

	result, err := client.GenerateCaption(context.Background(), "serum application demo", "", "casual")
	if err != nil {
		t.Fatalf("GenerateCaption() error = %v", err)
	}
	if result.Caption != "serum application demo" {
		t.Errorf("fallback caption = %q", result.Caption)
	}
	if len(result.Hashtags) == 0 || result.CTA == "" {
		t.Errorf("fallback result = %+v", result)
	}
}

func TestHTTPClient_MatchProduct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(modelResponse(t, `[{"start_time": 12, "end_time": 27, "confidence": 0.8}]`))
	})

	matches, err := client.MatchProduct(context.Background(), "Vitamin C Serum", "beauty",
		[]project.SceneAnalysis{{Timestamp: 12, Products: []string{"serum"}}})
	if err != nil {
		t.Fatalf("MatchProduct() error = %v", err)
	}
	if len(matches) != 1 || matches[0].StartTime != 12 || matches[0].Confidence != 0.8 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestDecodeModelJSON(t *testing.T) {
	var out []int
	if err := decodeModelJSON("```json\n[1, 2]\n```", &out); err != nil {
		t.Errorf("fenced decode error = %v", err)
	}
	if err := decodeModelJSON("  [3]  ", &out); err != nil {
		t.Errorf("plain decode error = %v", err)
	}
	if err := decodeModelJSON("```\n```", &out); err == nil {
		t.Error("empty fenced block decoded without error")
	}
}

func TestStubClient(t *testing.T) {
	stub := NewStubClient(nil)
	ctx := context.Background()

	scenes, err := stub.AnalyzeBatch(ctx, []string{"frame.jpg"}, 0, 3)
	if err != nil || len(scenes) != 0 {
		t.Errorf("AnalyzeBatch() = %v, %v", scenes, err)
	}

	caption, err := stub.GenerateCaption(ctx, "demo clip", "", "casual")
	if err != nil {
		t.Fatalf("GenerateCaption() error = %v", err)
	}
	if caption.Caption != "demo clip" {
		t.Errorf("stub caption = %q", caption.Caption)
	}
}
