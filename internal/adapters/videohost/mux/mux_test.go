package mux

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeMux struct {
	mu          sync.Mutex
	uploaded    []byte
	assetStatus string
	uploadState string
	mp4Support  string
}

func (f *fakeMux) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id, secret, ok := r.BasicAuth()
			if !ok || id != "tok" || secret != "sec" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	var srvURL string
	mux.HandleFunc("POST /video/v1/uploads", authed(func(w http.ResponseWriter, r *http.Request) {
		srvURL = "http://" + r.Host
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "up-1", "url": srvURL + "/signed/up-1"}})
	}))
	mux.HandleFunc("PUT /signed/up-1", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /video/v1/uploads/up-1", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		data := map[string]any{"id": "up-1", "status": f.uploadState}
		if f.uploadState == "asset_created" {
			data["asset_id"] = "asset-1"
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	mux.HandleFunc("GET /video/v1/assets/asset-1", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "asset-1", "status": f.assetStatus}})
	}))
	mux.HandleFunc("PUT /video/v1/assets/asset-1/mp4-support", authed(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.mp4Support = in["mp4_support"]
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": "asset-1"}})
	}))
	return mux
}

func TestUploadFlow(t *testing.T) {
	fake := &fakeMux{uploadState: "waiting"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TokenID: "tok", TokenSecret: "sec"})
	ctx := context.Background()

	up, err := c.CreateUpload(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if up.ID != "up-1" {
		t.Fatalf("unexpected upload %+v", up)
	}

	path := filepath.Join(t.TempDir(), "final.mp4")
	os.WriteFile(path, []byte("video bytes"), 0o644)

	id, err := c.Send(ctx, up, path)
	if err != nil {
		t.Fatal(err)
	}
	if id != "up-1" || string(fake.uploaded) != "video bytes" {
		t.Errorf("upload not received: id=%s body=%q", id, fake.uploaded)
	}

	st, err := c.Status(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.AssetID != "" || st.Ready {
		t.Errorf("expected pending upload, got %+v", st)
	}

	fake.mu.Lock()
	fake.uploadState, fake.assetStatus = "asset_created", "ready"
	fake.mu.Unlock()

	st, err = c.Status(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.AssetID != "asset-1" || !st.Ready {
		t.Errorf("expected ready asset, got %+v", st)
	}

	if err := c.EnableDownload(ctx, "asset-1"); err != nil {
		t.Fatal(err)
	}
	if fake.mp4Support != "standard" {
		t.Errorf("mp4 support not requested: %q", fake.mp4Support)
	}
}

func TestErroredUpload(t *testing.T) {
	fake := &fakeMux{uploadState: "errored"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TokenID: "tok", TokenSecret: "sec"})
	st, err := c.Status(context.Background(), "up-1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Failed {
		t.Errorf("expected failed status, got %+v", st)
	}
}

func TestBadCredentials(t *testing.T) {
	srv := httptest.NewServer((&fakeMux{}).handler(t))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, TokenID: "tok", TokenSecret: "wrong"})
	if _, err := c.CreateUpload(context.Background()); err == nil {
		t.Error("expected error for rejected credentials")
	}
}
