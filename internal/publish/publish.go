// Package publish pushes finished bulletins to the streaming host and waits
// for them to become playable.
package publish

import (
	"context"
	"time"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultMaxPolls = 120
)

// Result describes one publish. AssetID is empty only when no host is
// configured.
type Result struct {
	Configured bool
	AssetID    string
	Ready      bool
	// Provisional means the host never reported an asset and AssetID is the
	// upload id.
	Provisional bool
}

type Publisher struct {
	host     ports.VideoHost
	interval time.Duration
	maxPolls int
	log      *logger.Logger
}

type Option func(*Publisher)

// WithPolling overrides the readiness poll interval and ceiling.
func WithPolling(interval time.Duration, maxPolls int) Option {
	return func(p *Publisher) {
		p.interval = interval
		p.maxPolls = maxPolls
	}
}

// New builds a Publisher. A nil host turns Publish into a no-op.
func New(host ports.VideoHost, log *logger.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{
		host:     host,
		interval: DefaultInterval,
		maxPolls: DefaultMaxPolls,
		log:      log.WithComponent("publisher"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Publisher) Configured() bool { return p.host != nil }

// Publish uploads path and polls until the host reports it ready. Running out
// of polls is not an error: the asset is still processing and its id is
// returned.
func (p *Publisher) Publish(ctx context.Context, path, title string) (Result, error) {
	const op = "publish.Publish"
	if p.host == nil {
		p.log.Info("no video host configured, skipping publish")
		return Result{Configured: false}, nil
	}
	log := p.log.FromContext(ctx).With("host", p.host.Name())

	up, err := p.host.CreateUpload(ctx)
	if err != nil {
		return Result{}, errors.WrapWithCode(err, errors.CodePublishFailed, op, "create upload")
	}
	up.Title = title

	start := time.Now()
	id, err := p.host.Send(ctx, up, path)
	if err != nil {
		return Result{}, errors.WrapWithCode(err, errors.CodePublishFailed, op, "upload file")
	}
	log.Info("upload sent", "upload_id", id, "duration_ms", time.Since(start).Milliseconds())

	res := Result{Configured: true, AssetID: id, Provisional: true}
	for i := 0; i < p.maxPolls; i++ {
		st, err := p.host.Status(ctx, id)
		if err != nil {
			log.Warn("status poll failed", "poll", i+1, "error", err.Error())
		} else {
			if st.AssetID != "" {
				res.AssetID = st.AssetID
				res.Provisional = false
			}
			if st.Failed {
				return Result{}, errors.Newf(errors.CodePublishFailed, "%s rejected upload %s: %s", p.host.Name(), id, st.State)
			}
			if st.Ready {
				res.Ready = true
				break
			}
		}

		if i == p.maxPolls-1 {
			break
		}
		select {
		case <-ctx.Done():
			log.Warn("publish polling canceled", "asset_id", res.AssetID, "id_kind", idKind(res))
			return res, nil
		case <-time.After(p.interval):
		}
	}

	if !res.Ready {
		log.Warn("asset not ready after polling, continuing",
			"asset_id", res.AssetID, "id_kind", idKind(res), "polls", p.maxPolls)
	}

	if res.Provisional {
		log.Warn("no asset created yet, download rendition not enabled", "upload_id", res.AssetID)
	} else if err := p.host.EnableDownload(ctx, res.AssetID); err != nil {
		log.Warn("could not enable download rendition", "asset_id", res.AssetID, "error", err.Error())
	}

	log.Info("published", "asset_id", res.AssetID, "id_kind", idKind(res), "ready", res.Ready)
	return res, nil
}

func idKind(r Result) string {
	if r.Provisional {
		return "upload"
	}
	return "asset"
}
