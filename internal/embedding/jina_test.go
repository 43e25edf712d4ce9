package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/timmy/framescope/internal/domain"
)

func newTestJina(t *testing.T, handler http.HandlerFunc) *JinaEmbedder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewJinaEmbedder(&JinaConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Dimensions: 2,
	})
	if err != nil {
		t.Fatalf("failed to create embedder: %v", err)
	}
	return e
}

func TestJinaEmbedText(t *testing.T) {
	var got jinaRequest
	e := newTestJina(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[3,4]}]}`))
	})

	vec, err := e.EmbedText(context.Background(), "a red car")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Model != defaultJinaModel || got.Task != "retrieval.query" || !got.Normalized {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Input) != 1 || got.Input[0].Text != "a red car" {
		t.Errorf("unexpected input %+v", got.Input)
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 {
		t.Errorf("expected normalized output, got %v", vec)
	}
}

func TestJinaEmbedImage(t *testing.T) {
	var got jinaRequest
	e := newTestJina(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0,1]}]}`))
	})

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	vec, err := e.EmbedImage(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Input) != 1 || got.Input[0].Image == "" || got.Input[0].Text != "" {
		t.Errorf("expected a single image input, got %+v", got.Input)
	}
	if vec[1] != 1 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestJinaErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"detail":"bad key"}`},
		{name: "empty data", status: http.StatusOK, body: `{"data":[]}`},
		{name: "wrong dimension", status: http.StatusOK, body: `{"data":[{"index":0,"embedding":[1,2,3]}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestJina(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := e.EmbedText(context.Background(), "query")
			if !errors.Is(err, domain.ErrEmbeddingFailure) {
				t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
			}
		})
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(&Config{Provider: "jina", Dimensions: 4}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := New(&Config{Provider: "unknown"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
