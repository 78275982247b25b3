package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_DetectAndEmbed(t *testing.T) {
	var gotFile []byte
	var gotMIME string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed/face" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFile, _ = io.ReadAll(file)
		gotMIME = header.Header.Get("Content-Type")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 3,
			"model":       "buffalo_l",
			"faces": []map[string]any{
				{"face_index": 0, "dim": 2, "embedding": []float32{0.5, 0.25}, "bbox": []float64{1, 2, 3, 4}, "det_score": 0.9},
				{"face_index": 1, "dim": 0, "embedding": []float32{}, "det_score": 0.4},
				{"face_index": 2, "dim": 2, "embedding": []float32{1, 0}, "det_score": 0.7},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	jpegHeader := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0, 1, 2}

	faces, err := client.DetectAndEmbed(context.Background(), jpegHeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(gotFile) != string(jpegHeader) {
		t.Error("server did not receive the image bytes")
	}
	if gotMIME != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", gotMIME)
	}
	if len(faces) != 2 {
		t.Fatalf("got %d faces, want 2 (empty embedding dropped)", len(faces))
	}
	if faces[0].Embedding[0] != 0.5 || faces[0].Embedding[1] != 0.25 {
		t.Errorf("embedding = %v", faces[0].Embedding)
	}
	if faces[1].Index != 2 {
		t.Errorf("second face index = %d", faces[1].Index)
	}

	best, ok := BestFace(faces)
	if !ok || best.Index != 0 {
		t.Errorf("best face = %+v", best)
	}
}

func TestClient_NoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"faces_count":0,"faces":[],"model":"buffalo_l"}`))
	}))
	defer server.Close()

	faces, err := NewClient(server.URL).DetectAndEmbed(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
	if _, ok := BestFace(faces); ok {
		t.Error("BestFace should report false for no faces")
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			},
			wantMsg: "status 503",
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{"))
			},
			wantMsg: "failed to parse response",
		},
		{
			name: "mixed dimensions",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"faces":[{"embedding":[1,2]},{"embedding":[1,2,3]}]}`))
			},
			wantMsg: "different dimensions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := NewClient(server.URL).DetectAndEmbed(context.Background(), []byte("img"))
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := NewClient(server.URL).DetectAndEmbed(ctx, []byte("img")); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		data []byte
		want string
	}{
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{[]byte("GIF89a.."), "application/octet-stream"},
		{[]byte{1, 2}, "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := detectMIMEType(tt.data); got != tt.want {
			t.Errorf("detectMIMEType(%v) = %s, want %s", tt.data[:2], got, tt.want)
		}
	}
}
