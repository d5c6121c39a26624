package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
)

const (
	DefaultStageConcurrency = 4
	DefaultCacheFreshness   = 24 * time.Hour
)

// StoryInputs are the local copies of one story's assets. Empty means the
// asset is absent or could not be fetched.
type StoryInputs struct {
	Video  string
	Audio  string
	Poster string
}

// Stager copies assets from the store into a render's working directory.
type Stager struct {
	sp          ports.StorageProvider
	cacheDir    string
	freshness   time.Duration
	concurrency int
	log         *logger.Logger
	now         func() time.Time
}

// NewStager builds a Stager. Shared assets are cached under cacheDir, which
// defaults to a directory in the system temp dir.
func NewStager(sp ports.StorageProvider, cacheDir string, log *logger.Logger) *Stager {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "menews-cache")
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Stager{
		sp:          sp,
		cacheDir:    cacheDir,
		freshness:   DefaultCacheFreshness,
		concurrency: DefaultStageConcurrency,
		log:         log.WithComponent("stager"),
		now:         time.Now,
	}
}

// StageStories downloads every story's video, narration and poster into
// dir concurrently. A failed download is logged and leaves that asset
// absent; only a canceled context or an unusable dir fails the call.
func (s *Stager) StageStories(ctx context.Context, dir string, stories []models.Story) (map[string]StoryInputs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create inputs directory: %w", err)
	}

	var mu sync.Mutex
	out := make(map[string]StoryInputs, len(stories))
	for _, st := range stories {
		out[st.ID] = StoryInputs{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, st := range stories {
		for _, asset := range []struct {
			kind string
			key  string
		}{
			{"video", st.VideoKey},
			{"audio", st.AudioKey},
			{"poster", st.PosterKey},
		} {
			key := strings.TrimSpace(asset.key)
			if key == "" {
				continue
			}
			g.Go(func() error {
				name := fmt.Sprintf("story_%d_%s", st.Position, asset.kind)
				path, err := s.Fetch(gctx, key, dir, name)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.log.FromContext(ctx).Warn("story asset unavailable, continuing without it",
						"story_id", st.ID, "asset", asset.kind, "key", key, "error", err.Error())
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				in := out[st.ID]
				switch asset.kind {
				case "video":
					in.Video = path
				case "audio":
					in.Audio = path
				case "poster":
					in.Poster = path
				}
				out[st.ID] = in
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Fetch downloads objectKey to dir/name plus an extension derived from its
// content type.
func (s *Stager) Fetch(ctx context.Context, objectKey, dir, name string) (string, error) {
	rc, contentType, _, err := s.sp.GetObject(ctx, objectKey)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeAssetUnavailable, "render.Fetch",
			fmt.Sprintf("download %s failed", objectKey))
	}
	defer rc.Close()

	path := filepath.Join(dir, SanitizeFilename(name)+extFor(contentType, objectKey))
	if err := writeAtomic(path, rc); err != nil {
		return "", errors.Wrap(err, "render.Fetch", "save "+filepath.Base(path))
	}
	return path, nil
}

// Cached returns a local copy of a shared asset, downloading it again when
// the cached copy is older than the freshness window. A stale copy is used
// when the refresh fails.
func (s *Stager) Cached(ctx context.Context, objectKey string) (string, error) {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", err
	}
	log := s.log.FromContext(ctx)

	base := SanitizeFilename(strings.TrimSuffix(objectKey, filepath.Ext(objectKey)))
	var cached string
	if matches, _ := filepath.Glob(filepath.Join(s.cacheDir, base+".*")); len(matches) > 0 {
		cached = matches[0]
	} else if _, err := os.Stat(filepath.Join(s.cacheDir, base)); err == nil {
		cached = filepath.Join(s.cacheDir, base)
	}

	if cached != "" {
		if st, err := os.Stat(cached); err == nil && s.now().Sub(st.ModTime()) < s.freshness {
			return cached, nil
		}
	}

	path, err := s.Fetch(ctx, objectKey, s.cacheDir, base)
	if err != nil {
		if cached != "" {
			log.Warn("cache refresh failed, using stale copy", "key", objectKey, "error", err.Error())
			return cached, nil
		}
		return "", err
	}
	log.Info("cached shared asset", "key", objectKey, "path", path)
	return path, nil
}

func writeAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dl-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
