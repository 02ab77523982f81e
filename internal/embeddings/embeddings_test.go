package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nugget/luminary/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1.0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	got, err := Decode(Encode(v))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(v) {
		t.Fatalf("len = %d, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("v[%d] = %v, want %v", i, got[i], v[i])
		}
	}

	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode of a ragged blob should fail")
	}
}

func TestNearest(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Key: "far", Vector: []float32{-1, 0}},
		{Key: "exact", Vector: []float32{1, 0}},
		{Key: "near", Vector: []float32{0.9, 0.1}},
		{Key: "wrong-dim", Vector: []float32{1, 0, 0}},
	}

	got := Nearest(query, candidates, 2)
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].Key != "exact" || got[1].Key != "near" {
		t.Errorf("order = %s, %s; want exact, near", got[0].Key, got[1].Key)
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "hello" {
			t.Errorf("prompt = %q, want hello", req.Prompt)
		}
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	e := New(config.EmbeddingsConfig{Enabled: true, Provider: "ollama", BaseURL: srv.URL}, nil)
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("len = %d, want 3", len(v))
	}
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	e := New(config.EmbeddingsConfig{Enabled: true, Provider: "openai", BaseURL: srv.URL, APIKey: "sk"}, nil)
	v, err := e.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || v[1] != 2 {
		t.Errorf("v = %v", v)
	}
}

func TestOpenAIEmbed_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := New(config.EmbeddingsConfig{Enabled: true, Provider: "openai", BaseURL: srv.URL, APIKey: "sk"}, nil)
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected error for 401")
	}
}

func TestNew_Disabled(t *testing.T) {
	if e := New(config.EmbeddingsConfig{}, nil); e != nil {
		t.Errorf("New(disabled) = %T, want nil", e)
	}
}
