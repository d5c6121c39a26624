package storage

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/adapters/storage/gdrive"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/adapters/storage/localfs"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/config"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

func NewProvider(ctx context.Context, cfg config.Storage) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, errors.Validation("STORAGE_LOCAL_ROOT is required for localfs")
		}
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg.GDrive)

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDriveProvider(ctx context.Context, g config.Google) (Provider, error) {
	if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
		return nil, errors.NotConfigured("gdrive")
	}

	httpClient := OAuthClient(ctx, g, drive.DriveFileScope)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, g.FolderID), nil
}

// OAuthClient returns an HTTP client that refreshes access tokens from the
// stored refresh token.
func OAuthClient(ctx context.Context, g config.Google, scopes ...string) *http.Client {
	conf := &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	return conf.Client(ctx, &oauth2.Token{RefreshToken: g.RefreshToken})
}
