// Package render drives one bulletin render from staged inputs to a
// published file.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/assemble"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/models"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/overlay"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/ports"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/publish"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/segment"
)

// Render steps reported through ProgressFunc.
const (
	StepPreparing     = "preparing"
	StepSegmenting    = "segmenting"
	StepConcatenating = "concatenating"
	StepMixing        = "mixing"
	StepPublishing    = "publishing"
	StepComplete      = "complete"
)

// ProgressFunc receives (percent, step) as the render advances. Percent never
// decreases within one run.
type ProgressFunc func(percent int, step string)

// SharedAssets are the storage keys of media reused by every bulletin.
// Empty keys are not configured.
type SharedAssets struct {
	BumperKey     string
	StudioLoopKey string
	MusicBedKey   string
}

type Deps struct {
	Overlays  overlay.Renderer
	Segments  *segment.Renderer
	Assembler *assemble.Assembler
	Publisher *publish.Publisher
	Stager    *Stager
	Assets    SharedAssets
	Brand     string
	WorkRoot  string
	// Archive, when set, receives a copy of every finished render under
	// renders/<bulletin id>/.
	Archive ports.StorageProvider
	Log     *logger.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	// AssetID is the host identifier; empty when no host is configured.
	AssetID    string
	Ready      bool
	ArchiveKey string
	Segments   int
	Duration   float64
	Log        string
}

// Failure is returned by Run when any core stage fails. It carries the run
// log tail for the bulletin record.
type Failure struct {
	Step string
	Err  error
	Log  string
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %v", f.Step, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

type Orchestrator struct {
	overlays  overlay.Renderer
	segments  *segment.Renderer
	assembler *assemble.Assembler
	publisher *publish.Publisher
	stager    *Stager
	assets    SharedAssets
	brand     string
	workRoot  string
	archive   ports.StorageProvider
	log       *logger.Logger
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	workRoot := d.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	pub := d.Publisher
	if pub == nil {
		pub = publish.New(nil, log)
	}
	return &Orchestrator{
		overlays:  d.Overlays,
		segments:  d.Segments,
		assembler: d.Assembler,
		publisher: pub,
		stager:    d.Stager,
		assets:    d.Assets,
		brand:     d.Brand,
		workRoot:  workRoot,
		archive:   d.Archive,
		log:       log.WithComponent("orchestrator"),
	}
}

// run is the state of one render attempt.
type run struct {
	b        *models.Bulletin
	dir      string
	log      *logger.Logger
	runlog   *RunLog
	progress *monotonic
	step     string
	segs     []segment.Segment
}

// Run renders b end to end. The working directory is removed before Run
// returns, whatever the outcome. Errors are *Failure.
func (o *Orchestrator) Run(ctx context.Context, b *models.Bulletin, progress ProgressFunc) (*Result, error) {
	ctx = logger.ContextWithBulletinID(ctx, b.ID)
	r := &run{
		b:        b,
		log:      o.log.FromContext(ctx),
		runlog:   NewRunLog(),
		progress: &monotonic{fn: progress},
	}
	r.dir = filepath.Join(o.workRoot, fmt.Sprintf("bulletin_%s_%s", SanitizeFilename(b.ID), uuid.NewString()[:8]))

	defer func() {
		if err := os.RemoveAll(r.dir); err != nil {
			r.log.Warn("failed to remove working directory", "dir", r.dir, "error", err.Error())
		}
	}()

	res, err := o.run(ctx, r)
	if err != nil {
		r.runlog.Printf("FAILED at %s: %v", r.step, err)
		r.log.Error("render failed", "step", r.step, "error", err.Error(), "code", string(errors.GetCode(err)))
		return nil, &Failure{Step: r.step, Err: err, Log: r.runlog.Tail()}
	}
	res.Log = r.runlog.Tail()
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, r *run) (*Result, error) {
	o.enter(r, 0, StepPreparing)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "render.prepare", "create working directory")
	}

	stories := renderableStories(r)
	if len(stories) == 0 {
		return nil, errors.New(errors.CodeInvalidState, "bulletin has no finished stories")
	}

	var (
		inputs  map[string]StoryInputs
		shared  sharedPaths
		weather string
	)
	err := o.stage(r, "stage inputs", func() error {
		var err error
		inputs, err = o.stager.StageStories(ctx, filepath.Join(r.dir, "inputs"), stories)
		if err != nil {
			return err
		}
		shared = o.stageShared(ctx, r)
		if b := r.b; b.WeatherAudioKey != "" {
			o.bestEffort(r, "weather audio", func() error {
				weather, err = o.stager.Fetch(ctx, b.WeatherAudioKey, filepath.Join(r.dir, "inputs"), "weather_audio")
				return err
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.enter(r, 10, StepSegmenting)
	segDir := filepath.Join(r.dir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "render.segment", "create segments directory")
	}

	if shared.bumper != "" {
		if err := o.addSegment(r, "bumper_open", func() (segment.Segment, error) {
			return o.segments.Bumper(ctx, "bumper_open", shared.bumper, o.segPath(r, segDir, "bumper_open"))
		}); err != nil {
			return nil, err
		}
	}

	for i, st := range stories {
		pct := 12 + (60-12)*i/len(stories)
		r.progress.report(pct, fmt.Sprintf("story %d of %d", i+1, len(stories)))
		if err := o.renderStory(ctx, r, segDir, st, inputs[st.ID], shared, i+1, len(stories)); err != nil {
			return nil, err
		}
	}
	r.progress.report(60, StepSegmenting)

	if weather != "" {
		o.bestEffort(r, "weather segment", func() error {
			return o.renderWeather(ctx, r, segDir, weather, shared)
		})
	}

	if shared.bumper != "" {
		r.progress.report(66, "closing segment")
		if err := o.addSegment(r, "bumper_close", func() (segment.Segment, error) {
			return o.segments.Bumper(ctx, "bumper_close", shared.bumper, o.segPath(r, segDir, "bumper_close"))
		}); err != nil {
			return nil, err
		}
	}

	o.enter(r, 70, StepConcatenating)
	joined := filepath.Join(r.dir, "joined.mp4")
	var total float64
	if err := o.stage(r, "concat", func() error {
		var err error
		total, err = o.assembler.Concat(ctx, r.segs, joined)
		return err
	}); err != nil {
		return nil, err
	}
	r.runlog.Printf("joined %d segments, %.2fs", len(r.segs), total)

	final := joined
	if shared.music != "" {
		o.enter(r, 80, StepMixing)
		mixed := filepath.Join(r.dir, "final.mp4")
		if err := o.stage(r, "mix", func() error {
			auto, err := o.assembler.Automation(ctx, r.segs)
			if err != nil {
				return err
			}
			r.runlog.Printf("music automation: %s", auto.Filter())
			return o.assembler.Mix(ctx, joined, shared.music, auto, mixed)
		}); err != nil {
			return nil, err
		}
		final = mixed
	} else {
		r.runlog.Printf("no music bed configured, skipping mix")
	}

	o.enter(r, 90, StepPublishing)
	res := &Result{Segments: len(r.segs), Duration: total}

	if o.archive != nil {
		o.bestEffort(r, "archive render", func() error {
			key, err := o.archiveRender(ctx, r, final)
			res.ArchiveKey = key
			return err
		})
	}

	var pub publish.Result
	if err := o.stage(r, "publish", func() error {
		var err error
		pub, err = o.publisher.Publish(ctx, final, r.b.Title)
		return err
	}); err != nil {
		return nil, err
	}
	if !pub.Configured {
		r.runlog.Printf("video host not configured, render kept unpublished")
	} else if pub.Provisional {
		r.runlog.Printf("published upload %s, host has not created the asset yet", pub.AssetID)
	} else {
		r.runlog.Printf("published asset %s (ready=%v)", pub.AssetID, pub.Ready)
	}
	res.AssetID = pub.AssetID
	res.Ready = pub.Ready

	o.enter(r, 100, StepComplete)
	return res, nil
}

type sharedPaths struct {
	bumper string
	loop   string
	music  string
}

// stageShared resolves the shared assets through the cache. A configured
// asset that cannot be fetched degrades the render instead of failing it.
func (o *Orchestrator) stageShared(ctx context.Context, r *run) sharedPaths {
	var p sharedPaths
	for _, a := range []struct {
		name string
		key  string
		dst  *string
	}{
		{"bumper", o.assets.BumperKey, &p.bumper},
		{"studio loop", o.assets.StudioLoopKey, &p.loop},
		{"music bed", o.assets.MusicBedKey, &p.music},
	} {
		if a.key == "" {
			r.runlog.Printf("%s not configured", a.name)
			continue
		}
		o.bestEffort(r, a.name, func() error {
			path, err := o.stager.Cached(ctx, a.key)
			*a.dst = path
			return err
		})
	}
	return p
}

func (o *Orchestrator) renderStory(ctx context.Context, r *run, segDir string, st models.Story, in StoryInputs, shared sharedPaths, n, total int) error {
	card := overlay.Card{
		Brand:    o.brand,
		Headline: st.Headline,
		Subline:  fmt.Sprintf("Story %d of %d", n, total),
	}

	studio := segment.StudioInput{
		Label: fmt.Sprintf("studio_%d", n),
		Audio: in.Audio,
		Cues:  st.Cues,
	}
	studio.Out = o.segPath(r, segDir, studio.Label)

	if in.Audio == "" {
		r.runlog.Printf("story %d has no narration audio, rendering %.0fs silent card", n, o.segments.Profile().SilentCard)
	}

	if in.Poster != "" {
		poster := in.Poster
		o.bestEffort(r, fmt.Sprintf("poster for story %d", n), func() error {
			if err := overlay.Decodable(poster); err != nil {
				return err
			}
			card.Thumbnail = poster
			return nil
		})
	}

	if err := o.stage(r, studio.Label+" overlay", func() error {
		if shared.loop != "" {
			studio.Loop = shared.loop
			studio.Overlay = filepath.Join(segDir, studio.Label+"_overlay.png")
			return o.overlays.StudioOverlay(card, studio.Overlay)
		}
		frameCard := card
		frameCard.Background = card.Thumbnail
		studio.Frame = filepath.Join(segDir, studio.Label+"_frame.png")
		return o.overlays.StudioFrame(frameCard, studio.Frame)
	}); err != nil {
		return err
	}

	if err := o.addSegment(r, studio.Label, func() (segment.Segment, error) {
		return o.segments.Studio(ctx, studio)
	}); err != nil {
		return err
	}

	if in.Video == "" {
		return nil
	}

	label := fmt.Sprintf("video_%d", n)
	bar := filepath.Join(segDir, label+"_bar.png")
	if err := o.stage(r, label+" overlay", func() error {
		return o.overlays.VideoOverlay(card, bar)
	}); err != nil {
		return err
	}
	return o.addSegment(r, label, func() (segment.Segment, error) {
		return o.segments.UserVideo(ctx, label, in.Video, bar, o.segPath(r, segDir, label))
	})
}

func (o *Orchestrator) renderWeather(ctx context.Context, r *run, segDir, audio string, shared sharedPaths) error {
	card := overlay.Card{Brand: o.brand, Headline: "Weather"}
	in := segment.StudioInput{Label: "weather", Audio: audio}
	in.Out = o.segPath(r, segDir, in.Label)

	if shared.loop != "" {
		in.Loop = shared.loop
		in.Overlay = filepath.Join(segDir, "weather_overlay.png")
		if err := o.overlays.StudioOverlay(card, in.Overlay); err != nil {
			return err
		}
	} else {
		in.Frame = filepath.Join(segDir, "weather_frame.png")
		if err := o.overlays.StudioFrame(card, in.Frame); err != nil {
			return err
		}
	}

	seg, err := o.segments.Studio(ctx, in)
	if err != nil {
		return err
	}
	r.segs = append(r.segs, seg)
	r.runlog.Printf("segment %s: %.2fs", seg.Label, seg.Duration)
	return nil
}

func (o *Orchestrator) archiveRender(ctx context.Context, r *run, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("renders/%s/%s.mp4", SanitizeFilename(r.b.ID), filepath.Base(r.dir))
	out, err := o.archive.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", err
	}
	r.runlog.Printf("archived render to %s as %s", o.archive.Provider(), out.ObjectKey)
	return out.ObjectKey, nil
}

// segPath numbers segment files in timeline order.
func (o *Orchestrator) segPath(r *run, dir, label string) string {
	return filepath.Join(dir, fmt.Sprintf("%02d_%s.mp4", len(r.segs), label))
}

func (o *Orchestrator) addSegment(r *run, label string, render func() (segment.Segment, error)) error {
	return o.stage(r, label, func() error {
		seg, err := render()
		if err != nil {
			return err
		}
		r.segs = append(r.segs, seg)
		r.runlog.Printf("segment %s: %.2fs", seg.Label, seg.Duration)
		return nil
	})
}

// enter moves the run to a new step.
func (o *Orchestrator) enter(r *run, pct int, step string) {
	r.step = step
	r.progress.report(pct, step)
	r.runlog.Printf("== %s (%d%%)", step, pct)
	r.log.Info("render step", "step", step, "percent", pct)
}

// stage runs one core unit of work. Its error aborts the render.
func (o *Orchestrator) stage(r *run, name string, fn func() error) error {
	start := time.Now()
	log := r.log.WithStage(name)
	log.Debug("stage started")

	err := fn()
	ms := time.Since(start).Milliseconds()
	if err != nil {
		log.WithError(err).Warn("stage failed", "duration_ms", ms)
		return err
	}
	log.Info("stage finished", "duration_ms", ms)
	return nil
}

// bestEffort runs optional enrichment. Its error is logged and dropped.
func (o *Orchestrator) bestEffort(r *run, name string, fn func() error) {
	start := time.Now()
	if err := fn(); err != nil {
		r.runlog.Printf("skipped %s: %v", name, err)
		r.log.Warn("optional stage failed, continuing", "stage", name,
			"duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
	}
}

// renderableStories returns finished stories in position order.
func renderableStories(r *run) []models.Story {
	var out []models.Story
	for _, st := range r.b.Stories {
		if st.Status != models.StoryDone {
			r.runlog.Printf("skipping story %s in state %s", st.ID, st.Status)
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

type monotonic struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func (m *monotonic) report(pct int, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pct < m.last {
		pct = m.last
	}
	if pct > 100 {
		pct = 100
	}
	m.last = pct
	if m.fn != nil {
		m.fn(pct, step)
	}
}
