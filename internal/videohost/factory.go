// Package videohost builds the configured publishing host.
package videohost

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/adapters/videohost/mux"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/adapters/videohost/youtube"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/config"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/storage"
)

// New returns the host selected by cfg.Kind. It returns (nil, nil) for
// "none" and when the selected host has no credentials: publishing is
// optional and the caller skips it.
func New(ctx context.Context, cfg config.VideoHost, log *logger.Logger) (ports.VideoHost, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil

	case "mux":
		if cfg.MuxTokenID == "" || cfg.MuxTokenSecret == "" {
			log.Warn("mux selected but MUX_TOKEN_ID/MUX_TOKEN_SECRET missing, publishing disabled")
			return nil, nil
		}
		return mux.New(mux.Config{
			BaseURL:     cfg.MuxBaseURL,
			TokenID:     cfg.MuxTokenID,
			TokenSecret: cfg.MuxTokenSecret,
		}), nil

	case "youtube":
		g := cfg.YouTube
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			log.Warn("youtube selected but credentials missing, publishing disabled")
			return nil, nil
		}
		httpClient := storage.OAuthClient(ctx, g, yt.YoutubeUploadScope, yt.YoutubeReadonlyScope)
		svc, err := yt.NewService(ctx, option.WithHTTPClient(httpClient))
		if err != nil {
			return nil, errors.Wrap(err, "videohost.New", "youtube service")
		}
		return youtube.New(svc, cfg.YouTubePrivacy, log), nil

	default:
		return nil, fmt.Errorf("unknown video host: %s", cfg.Kind)
	}
}
