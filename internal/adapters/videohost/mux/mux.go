// Package mux publishes videos through Mux direct uploads.
package mux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
)

const DefaultBaseURL = "https://api.mux.com"

type Config struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
}

// Client implements ports.VideoHost against the Mux video API.
type Client struct {
	baseURL     string
	tokenID     string
	tokenSecret string
	// api serves JSON calls; upload streams the file and is bounded by ctx.
	api    *http.Client
	upload *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenID:     cfg.TokenID,
		tokenSecret: cfg.TokenSecret,
		api:         &http.Client{Timeout: 30 * time.Second},
		upload:      &http.Client{},
	}
}

func (c *Client) Name() string { return "mux" }

type uploadData struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	AssetID string `json:"asset_id"`
}

type assetData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreateUpload(ctx context.Context) (ports.Upload, error) {
	body := map[string]any{
		"cors_origin": "*",
		"new_asset_settings": map[string]any{
			"playback_policy": []string{"public"},
		},
	}
	var out struct {
		Data uploadData `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/video/v1/uploads", body, &out); err != nil {
		return ports.Upload{}, err
	}
	if out.Data.ID == "" || out.Data.URL == "" {
		return ports.Upload{}, fmt.Errorf("mux: upload response missing id or url")
	}
	return ports.Upload{ID: out.Data.ID, URL: out.Data.URL}, nil
}

// Send PUTs the file to the signed upload URL and returns the upload id.
func (c *Client) Send(ctx context.Context, up ports.Upload, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, up.URL, f)
	if err != nil {
		return "", err
	}
	req.ContentLength = st.Size()
	req.Header.Set("Content-Type", "video/mp4")

	res, err := c.upload.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("mux upload http %d", res.StatusCode)
	}
	return up.ID, nil
}

// Status resolves the upload to its asset and reports the asset's state.
func (c *Client) Status(ctx context.Context, uploadID string) (ports.AssetStatus, error) {
	var up struct {
		Data uploadData `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/video/v1/uploads/"+uploadID, nil, &up); err != nil {
		return ports.AssetStatus{}, err
	}
	switch up.Data.Status {
	case "errored", "cancelled", "timed_out":
		return ports.AssetStatus{Failed: true, State: "upload " + up.Data.Status}, nil
	}
	if up.Data.AssetID == "" {
		return ports.AssetStatus{State: "upload " + up.Data.Status}, nil
	}

	var asset struct {
		Data assetData `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/video/v1/assets/"+up.Data.AssetID, nil, &asset); err != nil {
		return ports.AssetStatus{AssetID: up.Data.AssetID}, err
	}
	return ports.AssetStatus{
		AssetID: up.Data.AssetID,
		Ready:   asset.Data.Status == "ready",
		Failed:  asset.Data.Status == "errored",
		State:   asset.Data.Status,
	}, nil
}

func (c *Client) EnableDownload(ctx context.Context, assetID string) error {
	return c.call(ctx, http.MethodPut, "/video/v1/assets/"+assetID+"/mp4-support",
		map[string]string{"mp4_support": "standard"}, nil)
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.tokenID, c.tokenSecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.api.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("mux %s %s: http %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
