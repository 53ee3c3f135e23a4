// Package workflow drives the select → preview → process → download cycle of
// a single background-removal job.
//
// A Controller owns the selected file, its preview, the processed result and
// the current error. Asynchronous completions (preview decoding, remote
// processing) carry the selection generation they were started for and are
// discarded when that generation is no longer current.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/handle"
	"github.com/chaos-io/bgremover/preview"
	"github.com/chaos-io/bgremover/rembg"
)

type Controller struct {
	remover   rembg.Remover
	previewer preview.Generator
	handles   *handle.Registry
	saver     Saver
	logger    *zap.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	selected *SelectedFile
	preview  handle.Slot
	result   handle.Slot
	err      *Error
	status   Status

	// selGen is bumped by every accepted selection and by reset.
	selGen        uint64
	cancelPreview context.CancelFunc
	// procGen is bumped by every process start and by reset; only the latest
	// request may return the status to idle.
	procGen       uint64
	cancelProcess context.CancelFunc
}

type Option func(*Controller)

func WithPreviewer(g preview.Generator) Option {
	return func(c *Controller) { c.previewer = g }
}

func WithRegistry(r *handle.Registry) Option {
	return func(c *Controller) { c.handles = r }
}

func WithSaver(s Saver) Option {
	return func(c *Controller) { c.saver = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(remover rembg.Remover, opts ...Option) *Controller {
	c := &Controller{
		remover:   remover,
		previewer: preview.NewDecoder(preview.DefaultMaxEdge),
		handles:   handle.NewRegistry(),
		saver:     DirSaver{Dir: "."},
		logger:    zap.NewNop(),
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.Named("workflow")
	c.preview = handle.NewSlot(c.handles)
	c.result = handle.NewSlot(c.handles)
	c.ctx, c.stop = context.WithCancel(context.Background())
	return c
}

// Select validates f and makes it the current selection. On success any
// previous preview and result are released and a preview is generated in the
// background. On rejection the previous selection stays and the rejection
// becomes the current error. A nil f is ignored.
func (c *Controller) Select(f *File) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	// an empty picker result leaves everything as it was
	if f == nil {
		return nil
	}

	c.err = nil
	sel, werr := validate(f)
	if werr != nil {
		c.err = werr
		c.logger.Info("file rejected", zap.String("reason", werr.Message))
		return werr
	}

	c.selGen++
	c.stopPreview()
	c.selected = sel
	c.preview.Clear()
	c.result.Clear()

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelPreview = cancel
	c.wg.Add(1)
	go c.generatePreview(ctx, c.selGen, sel)

	c.logger.Info("file selected",
		zap.String("name", sel.Name),
		zap.String("media_type", sel.MediaType),
		zap.Int64("size", sel.Size))
	return nil
}

func (c *Controller) generatePreview(ctx context.Context, gen uint64, sel *SelectedFile) {
	defer c.wg.Done()

	img, err := c.loadPreview(ctx, sel)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.selGen {
		c.logger.Debug("discarding stale preview", zap.String("name", sel.Name))
		return
	}
	c.stopPreview()

	if err != nil {
		c.err = decodeFailure(err)
		c.logger.Warn("preview failed", zap.String("name", sel.Name), zap.Error(err))
		return
	}

	c.preview.Set(c.handles.Create(handle.KindPreview, img.MediaType, img.Data))
	c.logger.Debug("preview ready",
		zap.String("name", sel.Name),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Bool("scaled", img.Scaled))
}

func (c *Controller) loadPreview(ctx context.Context, sel *SelectedFile) (*preview.Image, error) {
	data, err := sel.ReadAll()
	if err != nil {
		return nil, err
	}
	return c.previewer.Generate(ctx, sel.MediaType, data)
}

// stopPreview cancels the pending preview, if any. Callers hold c.mu.
func (c *Controller) stopPreview() {
	if c.cancelPreview != nil {
		c.cancelPreview()
		c.cancelPreview = nil
	}
}

// Process submits the current selection and blocks until the round trip
// completes. It returns ErrBusy or ErrNoFile without changing any state when
// its preconditions do not hold.
func (c *Controller) Process(ctx context.Context) error {
	run, err := c.beginProcess(ctx, false)
	if err != nil {
		return err
	}
	return run()
}

// ProcessAsync is Process running in the background. Precondition failures
// are reported synchronously.
func (c *Controller) ProcessAsync() error {
	run, err := c.beginProcess(c.ctx, true)
	if err != nil {
		return err
	}

	go func() {
		defer c.wg.Done()
		_ = run()
	}()
	return nil
}

func (c *Controller) beginProcess(parent context.Context, async bool) (func() error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.status == StatusProcessing {
		c.logger.Debug("process request ignored, already processing")
		return nil, ErrBusy
	}
	if c.selected == nil {
		return nil, ErrNoFile
	}

	c.status = StatusProcessing
	c.err = nil
	c.procGen++

	ctx, cancel := context.WithCancel(parent)
	c.cancelProcess = cancel
	sel, selGen, procGen := c.selected, c.selGen, c.procGen
	if async {
		c.wg.Add(1)
	}

	return func() error {
		defer cancel()
		return c.process(ctx, sel, selGen, procGen)
	}, nil
}

func (c *Controller) process(ctx context.Context, sel *SelectedFile, selGen, procGen uint64) error {
	logger := c.logger.With(zap.String("name", sel.Name))
	logger.Info("processing image")
	start := time.Now()

	var (
		out  []byte
		werr *Error
	)
	data, err := sel.ReadAll()
	if err != nil {
		werr = invalidInput("Failed to read image: " + err.Error())
		werr.Err = err
	} else if out, err = c.remover.Remove(ctx, rembg.Upload{
		Name:      sel.Name,
		MediaType: sel.MediaType,
		Data:      data,
	}); err != nil {
		werr = processFailure(err)
	}

	var mediaType string
	if werr == nil {
		mediaType = c.inspectResult(logger, out)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if procGen == c.procGen {
		c.status = StatusIdle
		c.cancelProcess = nil
	}
	if selGen != c.selGen {
		logger.Info("discarding result for superseded selection", zap.Bool("failed", werr != nil))
		return ErrStale
	}
	if werr != nil {
		c.err = werr
		logger.Warn("processing failed",
			zap.String("kind", string(werr.Kind)),
			zap.Int("status", werr.StatusCode),
			zap.Error(werr.Err))
		return werr
	}

	c.result.Set(c.handles.Create(handle.KindResult, mediaType, out))
	logger.Info("image processed",
		zap.String("media_type", mediaType),
		zap.Int("size", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// inspectResult picks the media type of a processed image and warns when its
// alpha channel looks wrong.
func (c *Controller) inspectResult(logger *zap.Logger, out []byte) string {
	mediaType := mimetype.Detect(out).String()
	if !IsImage(mediaType) {
		logger.Warn("result is not a recognized image", zap.String("detected", mediaType))
		return "image/png"
	}

	alpha, err := preview.Analyze(out)
	switch {
	case err != nil:
		logger.Warn("cannot analyze result", zap.Error(err))
	case !alpha.Transparent:
		logger.Warn("result has no transparent pixels", zap.String("media_type", mediaType))
	case alpha.Subject.Empty():
		logger.Warn("result is fully transparent", zap.String("media_type", mediaType))
	default:
		logger.Debug("result subject",
			zap.Stringer("bounds", alpha.Subject),
			zap.Int("width", alpha.Width),
			zap.Int("height", alpha.Height))
	}
	return mediaType
}

// Download saves the processed image as DownloadName through the configured
// Saver. It does nothing when there is no result.
func (c *Controller) Download() error {
	return c.DownloadTo(c.saver)
}

// DownloadTo is Download with an explicit Saver.
func (c *Controller) DownloadTo(s Saver) error {
	c.mu.Lock()
	var data []byte
	if h := c.result.Get(); h != nil {
		data = h.Bytes()
	}
	c.mu.Unlock()

	if data == nil {
		return nil
	}
	if err := s.Save(DownloadName, data); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	c.logger.Info("result downloaded", zap.String("name", DownloadName), zap.Int("size", len(data)))
	return nil
}

// Reset returns the workflow to its initial state, releasing every handle and
// cancelling pending preview and processing work. Calling it repeatedly is
// harmless.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.logger.Debug("workflow reset")
}

func (c *Controller) reset() {
	c.selGen++
	c.procGen++
	c.stopPreview()
	if c.cancelProcess != nil {
		c.cancelProcess()
		c.cancelProcess = nil
	}

	c.selected = nil
	c.preview.Clear()
	c.result.Clear()
	c.err = nil
	c.status = StatusIdle
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Status: c.status}
	if c.selected != nil {
		s.File = c.selected.Info()
	}
	if h := c.preview.Get(); h != nil {
		s.Preview = h.URL()
	}
	if h := c.result.Get(); h != nil {
		s.Result = h.URL()
	}
	if c.err != nil {
		s.Error = c.err.Message
		s.Kind = c.err.Kind
	}
	s.Phase = phaseOf(c.selected != nil, s.Preview != "", s.Result != "", c.status)
	return s
}

// Preview returns the current preview handle or nil.
func (c *Controller) Preview() *handle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview.Get()
}

// Result returns the current processed handle or nil.
func (c *Controller) Result() *handle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result.Get()
}

// Err returns the current workflow error or nil.
func (c *Controller) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Handles() *handle.Registry { return c.handles }

// Wait blocks until background previews and ProcessAsync calls started so far
// have completed.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close resets the workflow, cancels background work and waits for it.
// Every operation after Close returns ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.reset()
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}
