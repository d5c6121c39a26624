// Package youtube publishes videos to a YouTube channel.
package youtube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
)

const (
	newsCategory = "25"
	chunkSize    = 8 * 1024 * 1024
)

// Client implements ports.VideoHost with the YouTube Data API. Videos are
// inserted with a resumable upload; the video id is both upload and asset id.
type Client struct {
	svc     *yt.Service
	privacy string
	log     *logger.Logger
}

func New(svc *yt.Service, privacy string, log *logger.Logger) *Client {
	if privacy == "" {
		privacy = "unlisted"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{svc: svc, privacy: privacy, log: log.WithComponent("youtube")}
}

func (c *Client) Name() string { return "youtube" }

// CreateUpload has nothing to reserve: the insert call creates the video.
func (c *Client) CreateUpload(ctx context.Context) (ports.Upload, error) {
	return ports.Upload{}, nil
}

func (c *Client) Send(ctx context.Context, up ports.Upload, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	title := strings.TrimSpace(up.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	video := &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:      title,
			CategoryId: newsCategory,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus: c.privacy,
		},
	}

	created, err := c.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f, googleapi.ChunkSize(chunkSize)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube insert failed: %w", err)
	}
	return created.Id, nil
}

func (c *Client) Status(ctx context.Context, id string) (ports.AssetStatus, error) {
	res, err := c.svc.Videos.List([]string{"status", "processingDetails"}).
		Id(id).
		Context(ctx).
		Do()
	if err != nil {
		return ports.AssetStatus{}, err
	}
	if len(res.Items) == 0 {
		return ports.AssetStatus{AssetID: id, State: "not visible yet"}, nil
	}

	v := res.Items[0]
	st := ports.AssetStatus{AssetID: id}
	if v.ProcessingDetails != nil {
		st.State = v.ProcessingDetails.ProcessingStatus
	}
	switch st.State {
	case "succeeded":
		st.Ready = true
	case "failed", "terminated":
		st.Failed = true
	}
	if v.Status != nil && (v.Status.UploadStatus == "rejected" || v.Status.UploadStatus == "failed") {
		st.Failed = true
		st.State = "upload " + v.Status.UploadStatus
	}
	return st, nil
}

// EnableDownload is a no-op: YouTube offers no downloadable rendition.
func (c *Client) EnableDownload(ctx context.Context, assetID string) error {
	c.log.Info("download rendition not supported, skipping", "video_id", assetID)
	return nil
}
