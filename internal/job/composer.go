package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maauso/ffanime/internal/media"
	"github.com/maauso/ffanime/internal/metrics"
	"github.com/maauso/ffanime/internal/optional"
	"github.com/maauso/ffanime/internal/pool"
	"github.com/maauso/ffanime/internal/storage"
	"github.com/maauso/ffanime/internal/workspace"
)

// DefaultClipSeconds is the clip length for an image without audio.
const DefaultClipSeconds = 5

// Fetcher copies a URI into a local directory.
type Fetcher interface {
	Materialize(ctx context.Context, uri, dir, name string) (string, error)
}

// Publisher copies a finished video to durable storage.
type Publisher interface {
	Publish(ctx context.Context, localPath string, opts storage.PublishOptions) (storage.Published, error)
}

// Workspaces allocates per-composition scratch directories.
type Workspaces interface {
	Create() (*workspace.Workspace, error)
}

// Dependencies are the collaborators a Composer drives.
type Dependencies struct {
	Processor  media.Processor
	Fetcher    Fetcher
	Publisher  Publisher
	Workspaces Workspaces
	Pool       *pool.Pool
	Repository Repository
}

// Result describes a finished composition.
type Result struct {
	// JobID identifies the run.
	JobID string
	// Path is the durable local copy of the video.
	Path string
	// Location is the URL or path for the requester.
	Location string
	// Duration is the playable length in seconds.
	Duration float64
}

// Composer runs the composition pipeline. It is safe for concurrent use;
// concurrent compositions share only the worker pool.
type Composer struct {
	deps        Dependencies
	logger      *slog.Logger
	clipSeconds int
	timeout     time.Duration
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithClipSeconds sets the clip length used for images without audio.
func WithClipSeconds(n int) ComposerOption {
	return func(c *Composer) {
		if n > 0 {
			c.clipSeconds = n
		}
	}
}

// WithTimeout bounds a whole composition. Zero means no limit.
func WithTimeout(d time.Duration) ComposerOption {
	return func(c *Composer) {
		c.timeout = d
	}
}

// NewComposer creates a new Composer.
func NewComposer(deps Dependencies, logger *slog.Logger, opts ...ComposerOption) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composer{
		deps:        deps,
		logger:      logger,
		clipSeconds: DefaultClipSeconds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJob retrieves a job by ID.
func (c *Composer) GetJob(ctx context.Context, id string) (*Job, error) {
	return c.deps.Repository.FindByID(ctx, id)
}

// Compose validates req, runs every stage it calls for and publishes the
// result. The workspace is removed whether or not the run succeeds.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := New()
	job.Images = len(req.Images)
	if err := c.deps.Repository.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	logger := c.logger.With(slog.String("job_id", job.ID))
	logger.Info("composition started",
		slog.Int("images", len(req.Images)),
		slog.Bool("audio", optional.Any(req.Audios)),
		slog.Bool("subtitles", optional.Any(req.Subtitles)),
		slog.Bool("background", req.Background.IsSome()),
		slog.Bool("opening", req.Opening.IsSome()),
		slog.Bool("ending", req.Ending.IsSome()),
		slog.Bool("cover", req.Cover.IsSome()),
	)

	// The run outlives the caller; only the job timeout bounds it.
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	r := &run{Composer: c, job: job, req: req, logger: logger}
	res, err := r.execute(ctx)
	metrics.CompositionsTotal.WithLabelValues(metrics.Status(err)).Inc()

	if err != nil {
		stage := job.GetStage()
		_ = job.Fail(err.Error())
		c.save(job, logger)
		logger.Error("composition failed",
			slog.String("stage", stage.Label()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}

	logger.Info("composition finished",
		slog.String("location", res.Location),
		slog.Float64("duration", res.Duration),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// save records job, logging instead of failing: the stored copy only serves
// introspection.
func (c *Composer) save(job *Job, logger *slog.Logger) {
	if err := c.deps.Repository.Save(context.Background(), job); err != nil {
		logger.Warn("failed to save job", slog.String("error", err.Error()))
	}
}

// local holds the workspace copies of a request's inputs.
type local struct {
	images     []string
	audios     []optional.Value[string]
	subtitles  []optional.Value[string]
	background optional.Value[string]
	opening    optional.Value[string]
	ending     optional.Value[string]
	cover      optional.Value[string]
}

// run is the state of one composition.
type run struct {
	*Composer
	job    *Job
	req    Request
	logger *slog.Logger

	ws     *workspace.Workspace
	inputs local
}

func (r *run) execute(ctx context.Context) (_ *Result, err error) {
	ws, err := r.deps.Workspaces.Create()
	if err != nil {
		return nil, err
	}
	r.ws = ws
	defer func() {
		if rerr := ws.Remove(); rerr != nil {
			r.logger.Warn("failed to remove workspace",
				slog.String("dir", ws.Dir()),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	if err := r.stage(ctx, StageFetching, r.fetch); err != nil {
		return nil, err
	}

	var clips []media.Clip
	err = r.stage(ctx, StageRendering, func(ctx context.Context) error {
		clips, err = r.render(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageAttachingMedia, func(ctx context.Context) error {
		clips, err = r.attach(ctx, clips)
		return err
	})
	if err != nil {
		return nil, err
	}

	var video media.Clip
	err = r.stage(ctx, StageSequencing, func(ctx context.Context) error {
		video, err = r.deps.Processor.Concat(ctx, clips, ws.Path("spine.mp4"))
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageBumpers, func(ctx context.Context) error {
		video, err = r.bumpers(ctx, video)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageCover, func(ctx context.Context) error {
		cover, ok := r.inputs.cover.Get()
		if !ok {
			return nil
		}
		video, err = r.deps.Processor.AttachCover(ctx, video, cover, ws.Path("final.mp4"))
		return err
	})
	if err != nil {
		return nil, err
	}

	var published storage.Published
	err = r.stage(ctx, StagePublishing, func(ctx context.Context) error {
		published, err = r.deps.Publisher.Publish(ctx, video.Path, storage.PublishOptions{
			Name:         r.job.ID,
			ResponseType: r.req.ResponseType,
			PushToS3:     r.req.PushToS3,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := Output{Path: published.Path, Location: published.Location, Duration: video.Duration}
	if err := r.job.Complete(out); err != nil {
		return nil, err
	}
	r.save(r.job, r.logger)

	return &Result{
		JobID:    r.job.ID,
		Path:     out.Path,
		Location: out.Location,
		Duration: out.Duration,
	}, nil
}

// stage moves the job to s, runs fn and records how long it took.
func (r *run) stage(ctx context.Context, s Stage, fn func(ctx context.Context) error) error {
	if err := r.job.TransitionTo(s); err != nil {
		return fmt.Errorf("%s: %w", s.Label(), err)
	}
	r.save(r.job, r.logger)
	r.logger.Debug("stage started", slog.String("stage", s.Label()))

	start := time.Now()
	err := fn(ctx)
	metrics.StageDurationSeconds.WithLabelValues(s.Label()).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", s.Label(), err)
	}

	r.logger.Debug("stage finished",
		slog.String("stage", s.Label()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// fetchItem is one input to copy into the workspace.
type fetchItem struct {
	uri  string
	name string
	set  func(path string)
}

// fetch materializes every referenced input in parallel. Each copy is named
// by kind and index so that identical base names never collide.
func (r *run) fetch(ctx context.Context) error {
	in := &r.inputs
	in.images = make([]string, len(r.req.Images))

	var items []fetchItem
	add := func(prefix, uri string, set func(string)) {
		items = append(items, fetchItem{
			uri:  uri,
			name: workspace.Sanitize(prefix + storage.BaseName(uri)),
			set:  set,
		})
	}
	addOptional := func(prefix string, v optional.Value[string], dst *optional.Value[string]) {
		if uri, ok := v.Get(); ok {
			add(prefix, uri, func(p string) { *dst = optional.Some(p) })
		}
	}

	for i, uri := range r.req.Images {
		add(fmt.Sprintf("img%03d_", i), uri, func(p string) { in.images[i] = p })
	}
	if r.req.Audios != nil {
		in.audios = make([]optional.Value[string], len(r.req.Audios))
		for i, v := range r.req.Audios {
			addOptional(fmt.Sprintf("aud%03d_", i), v, &in.audios[i])
		}
	}
	if r.req.Subtitles != nil {
		in.subtitles = make([]optional.Value[string], len(r.req.Subtitles))
		for i, v := range r.req.Subtitles {
			addOptional(fmt.Sprintf("sub%03d_", i), v, &in.subtitles[i])
		}
	}
	addOptional("bg_", r.req.Background, &in.background)
	addOptional("open_", r.req.Opening, &in.opening)
	addOptional("end_", r.req.Ending, &in.ending)
	addOptional("cover_", r.req.Cover, &in.cover)

	paths, err := pool.Map(ctx, r.deps.Pool, items, func(ctx context.Context, _ int, it fetchItem) (string, error) {
		return r.deps.Fetcher.Materialize(ctx, it.uri, r.ws.Dir(), it.name)
	})
	if err != nil {
		return err
	}
	for i, it := range items {
		it.set(paths[i])
	}

	r.logger.Info("inputs fetched", slog.Int("files", len(items)))
	return nil
}

// render turns every image into a clip. An image with audio lasts as long as
// its track, rounded up to whole seconds.
func (r *run) render(ctx context.Context) ([]media.Clip, error) {
	return pool.Map(ctx, r.deps.Pool, r.inputs.images, func(ctx context.Context, i int, image string) (media.Clip, error) {
		secs := r.clipSeconds
		if i < len(r.inputs.audios) {
			if audio, ok := r.inputs.audios[i].Get(); ok {
				info, err := r.deps.Processor.Probe(ctx, audio)
				if err != nil {
					return media.Clip{}, err
				}
				secs = int(math.Ceil(info.Duration))
			}
		}
		return r.deps.Processor.Render(ctx, image, image+".mp4", secs)
	})
}

// attach binds per-clip audio, then burns in per-clip subtitles. Each pass
// only runs when at least one clip has something to attach.
func (r *run) attach(ctx context.Context, clips []media.Clip) ([]media.Clip, error) {
	var err error
	if optional.Any(r.inputs.audios) {
		clips, err = pool.Map(ctx, r.deps.Pool, clips, func(ctx context.Context, i int, clip media.Clip) (media.Clip, error) {
			output := r.ws.Derived("aud_", clip.Path)
			// Every clip needs an audio stream for the concat copy to line up.
			if !r.inputs.audios[i].IsSome() {
				return r.deps.Processor.AttachSilence(ctx, clip, output)
			}
			return r.deps.Processor.AttachAudio(ctx, clip, r.inputs.audios[i], output, media.SilencePad)
		})
		if err != nil {
			return nil, err
		}
	}

	if optional.Any(r.inputs.subtitles) {
		clips, err = pool.Map(ctx, r.deps.Pool, clips, func(ctx context.Context, i int, clip media.Clip) (media.Clip, error) {
			return r.deps.Processor.AttachSubtitle(ctx, clip, r.inputs.subtitles[i], r.ws.Derived("sub_", clip.Path))
		})
		if err != nil {
			return nil, err
		}
	}
	return clips, nil
}

// bumpers applies background audio, then the opening, then the ending. Each
// step consumes the previous one's output.
func (r *run) bumpers(ctx context.Context, video media.Clip) (media.Clip, error) {
	var err error
	if bg := r.inputs.background; bg.IsSome() {
		video, err = r.deps.Processor.AttachAudio(ctx, video, bg, r.ws.Path("spine_bg.mp4"), media.RepeatPad)
		if err != nil {
			return media.Clip{}, err
		}
	}

	if opening, ok := r.inputs.opening.Get(); ok {
		video, err = r.deps.Processor.Splice(ctx, media.Clip{Path: opening}, video, r.ws.Path("spine_open.mp4"))
		if err != nil {
			return media.Clip{}, err
		}
	}

	if ending, ok := r.inputs.ending.Get(); ok {
		video, err = r.deps.Processor.Splice(ctx, video, media.Clip{Path: ending}, r.ws.Path("spine_end.mp4"))
		if err != nil {
			return media.Clip{}, err
		}
	}
	return video, nil
}

// IsValidation reports whether err was caused by an invalid request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoImages) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrEmptyReference) ||
		errors.Is(err, ErrInvalidResponseType)
}
