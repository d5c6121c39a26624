// Package config loads the worker and API configuration from the environment
// and the optional YAML render profile.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/assemble"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/media"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/segment"
)

type Config struct {
	HTTPPort string

	// Exactly one store: DatabaseURL (postgres) wins over SQLitePath.
	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RenderQueue   string

	// LockBackend is postgres, redis or memory.
	LockBackend string

	Storage   Storage
	Assets    Assets
	VideoHost VideoHost

	WorkRoot string
	CacheDir string
	Brand    string
	// ArchiveRenders copies every finished render back into Storage.
	ArchiveRenders bool

	FFmpegBin  string
	FFprobeBin string

	WorkerConcurrency int
	MaxAttempts       int
	RetryBackoff      time.Duration
	// StaleAfter is how old a rendering row must be before a starting worker
	// marks it interrupted. Renders still running when a worker's
	// DrainTimeout expires are marked failed by that worker, so StaleAfter
	// only catches workers that died without draining.
	StaleAfter time.Duration
	// DrainTimeout bounds how long a stopping worker waits for in-flight
	// renders. Publish polling alone can take 10 minutes.
	DrainTimeout time.Duration

	Profile Profile
}

type Storage struct {
	Provider  string
	LocalRoot string
	GDrive    Google
}

// Google holds OAuth client credentials plus a refresh token minted by
// cmd/google-auth.
type Google struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// Assets are storage keys of the shared media every bulletin uses. Empty
// means not configured.
type Assets struct {
	BumperKey     string
	StudioLoopKey string
	MusicBedKey   string
}

type VideoHost struct {
	// Kind is mux, youtube or none.
	Kind string

	MuxTokenID     string
	MuxTokenSecret string
	MuxBaseURL     string

	YouTube        Google
	YouTubePrivacy string
}

// Load reads the configuration from the environment. RENDER_PROFILE_PATH,
// when set, overrides the default render profile.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: Env("HTTP_PORT", "8080"),

		DatabaseURL: Env("DATABASE_URL", ""),
		SQLitePath:  Env("SQLITE_PATH", ""),

		RedisAddr:     Env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: Env("REDIS_PASSWORD", ""),
		RedisDB:       IntEnv("REDIS_DB", 0),
		RenderQueue:   Env("RENDER_QUEUE", "menews:renders"),

		LockBackend: strings.ToLower(Env("LOCK_BACKEND", "")),

		Storage: Storage{
			Provider:  strings.ToLower(Env("STORAGE_PROVIDER", "localfs")),
			LocalRoot: Env("STORAGE_LOCAL_ROOT", "/data"),
			GDrive: Google{
				ClientID:     Env("GDRIVE_CLIENT_ID", ""),
				ClientSecret: Env("GDRIVE_CLIENT_SECRET", ""),
				RefreshToken: Env("GDRIVE_REFRESH_TOKEN", ""),
				FolderID:     Env("GDRIVE_FOLDER_ID", ""),
			},
		},

		Assets: Assets{
			BumperKey:     Env("BUMPER_KEY", ""),
			StudioLoopKey: Env("STUDIO_LOOP_KEY", ""),
			MusicBedKey:   Env("MUSIC_BED_KEY", ""),
		},

		VideoHost: VideoHost{
			Kind:           strings.ToLower(Env("VIDEO_HOST", "none")),
			MuxTokenID:     Env("MUX_TOKEN_ID", ""),
			MuxTokenSecret: Env("MUX_TOKEN_SECRET", ""),
			MuxBaseURL:     Env("MUX_BASE_URL", "https://api.mux.com"),
			YouTube: Google{
				ClientID:     Env("YOUTUBE_CLIENT_ID", Env("GDRIVE_CLIENT_ID", "")),
				ClientSecret: Env("YOUTUBE_CLIENT_SECRET", Env("GDRIVE_CLIENT_SECRET", "")),
				RefreshToken: Env("YOUTUBE_REFRESH_TOKEN", ""),
			},
			YouTubePrivacy: Env("YOUTUBE_PRIVACY", "unlisted"),
		},

		WorkRoot: Env("WORK_ROOT", os.TempDir()),
		CacheDir: Env("BUMPER_CACHE_DIR", ""),
		Brand:    Env("BRAND_NAME", "Me News"),

		ArchiveRenders: BoolEnv("ARCHIVE_RENDERS", false),

		FFmpegBin:  Env("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin: Env("FFPROBE_BIN", "ffprobe"),

		WorkerConcurrency: IntEnv("WORKER_CONCURRENCY", 1),
		MaxAttempts:       IntEnv("RENDER_MAX_ATTEMPTS", 2),
		RetryBackoff:      DurationEnv("RENDER_RETRY_BACKOFF", 30*time.Second),
		StaleAfter:        DurationEnv("RENDER_STALE_AFTER", time.Hour),
		DrainTimeout:      DurationEnv("WORKER_DRAIN_TIMEOUT", 15*time.Minute),

		Profile: DefaultProfile(),
	}

	if cfg.LockBackend == "" {
		cfg.LockBackend = "memory"
		if cfg.DatabaseURL != "" {
			cfg.LockBackend = "postgres"
		}
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Minute
	}

	if path := Env("RENDER_PROFILE_PATH", ""); path != "" {
		p, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		cfg.Profile = p
	}
	if t := DurationEnv("TRANSCODE_TIMEOUT", 0); t > 0 {
		cfg.Profile.TranscodeTimeout = t
	}
	if t := DurationEnv("PROBE_TIMEOUT", 0); t > 0 {
		cfg.Profile.ProbeTimeout = t
	}

	return cfg, cfg.Validate()
}

// Validate checks combinations that would only fail later at first use.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return errors.Validation("one of DATABASE_URL or SQLITE_PATH is required")
	}
	switch c.LockBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.Validation("LOCK_BACKEND=postgres requires DATABASE_URL")
		}
	case "redis", "memory":
	default:
		return errors.Validation(fmt.Sprintf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	switch c.VideoHost.Kind {
	case "none", "mux", "youtube":
	default:
		return errors.Validation(fmt.Sprintf("unknown VIDEO_HOST %q", c.VideoHost.Kind))
	}
	return nil
}

// Profile is the render profile: output encoding, music gains and tool
// timeouts.
type Profile struct {
	Segment          segment.Profile `yaml:"segment"`
	Gains            assemble.Gains  `yaml:"music"`
	TranscodeTimeout time.Duration   `yaml:"-"`
	ProbeTimeout     time.Duration   `yaml:"-"`
}

func DefaultProfile() Profile {
	return Profile{
		Segment:          segment.DefaultProfile(),
		Gains:            assemble.DefaultGains(),
		TranscodeTimeout: media.DefaultTimeout,
		ProbeTimeout:     media.DefaultProbeTimeout,
	}
}

type profileFile struct {
	Profile  `yaml:",inline"`
	Timeouts struct {
		Transcode string `yaml:"transcode"`
		Probe     string `yaml:"probe"`
	} `yaml:"timeouts"`
}

// LoadProfile reads a YAML render profile. Keys absent from the file keep
// their defaults.
func LoadProfile(path string) (Profile, error) {
	const op = "config.LoadProfile"

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, errors.Wrap(err, op, "read render profile")
	}

	pf := profileFile{Profile: DefaultProfile()}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Profile{}, errors.WrapWithCode(err, errors.CodeValidation, op, "parse render profile")
	}

	p := pf.Profile
	if pf.Timeouts.Transcode != "" {
		if p.TranscodeTimeout, err = time.ParseDuration(pf.Timeouts.Transcode); err != nil {
			return Profile{}, errors.WrapWithCode(err, errors.CodeValidation, op, "timeouts.transcode")
		}
	}
	if pf.Timeouts.Probe != "" {
		if p.ProbeTimeout, err = time.ParseDuration(pf.Timeouts.Probe); err != nil {
			return Profile{}, errors.WrapWithCode(err, errors.CodeValidation, op, "timeouts.probe")
		}
	}

	s := p.Segment
	switch {
	case s.Width <= 0 || s.Height <= 0 || s.Width%2 != 0 || s.Height%2 != 0:
		return Profile{}, errors.Validation("segment width and height must be positive and even")
	case s.FPS <= 0:
		return Profile{}, errors.Validation("segment fps must be positive")
	case s.MaxBumper <= 0 || s.SilentCard <= 0:
		return Profile{}, errors.Validation("bumper cap and silent card length must be positive")
	case p.Gains.Base < 0 || p.Gains.Bumper < 0 || p.Gains.UserVideo < 0:
		return Profile{}, errors.Validation("music gains cannot be negative")
	}
	return p, nil
}
