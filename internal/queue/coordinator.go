package queue

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/vault"
)

// Processor runs the generative call sequence for one page image.
type Processor interface {
	Process(ctx context.Context, image []byte, mime string, pctx pipeline.Context) (*pipeline.Result, error)
}

// Notifier receives progress updates as pages and batches change state.
type Notifier interface {
	PageChanged(p models.Page)
	BatchChanged(b models.Batch)
}

type noopNotifier struct{}

func (noopNotifier) PageChanged(models.Page)   {}
func (noopNotifier) BatchChanged(models.Batch) {}

const defaultRescheduleDelay = 5 * time.Minute

// Coordinator drives queued batches through the pipeline. At most one
// processing pass runs at a time; triggers arriving during a pass are
// coalesced into a single follow-up pass.
type Coordinator struct {
	store  *Store
	files  storage.Provider
	proc   Processor
	writer *vault.Writer
	engine *index.Engine
	gate   Gate
	notify Notifier
	log    *slog.Logger

	trigger    chan struct{}
	reschedule time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGate sets the resource precondition gate.
func WithGate(g Gate) Option {
	return func(c *Coordinator) { c.gate = g }
}

// WithNotifier sets the progress notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notify = n }
}

// WithRescheduleDelay sets how long to wait before re-running a pass
// that was blocked by an unmet gate.
func WithRescheduleDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.reschedule = d }
}

// NewCoordinator wires a Coordinator over the queue store, the vault
// file provider, the page processor, and the note writer/index pair.
func NewCoordinator(store *Store, files storage.Provider, proc Processor, writer *vault.Writer, engine *index.Engine, log *slog.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		store:      store,
		files:      files,
		proc:       proc,
		writer:     writer,
		engine:     engine,
		gate:       AllowAll{},
		notify:     noopNotifier{},
		log:        log,
		trigger:    make(chan struct{}, 1),
		reschedule: defaultRescheduleDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger requests a processing pass. Safe to call from any goroutine;
// a trigger during an active pass schedules exactly one follow-up.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// RunLoop serves triggers until ctx is cancelled. An unmet gate
// reschedules the pass after the configured delay.
func (c *Coordinator) RunLoop(ctx context.Context) error {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			c.Trigger()
		case <-c.trigger:
			requeue, err := c.RunPass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.Error("queue: pass failed", slog.String("error", err.Error()))
			}
			if requeue {
				timer.Reset(c.reschedule)
			}
		}
	}
}

// RunPass executes one processing pass over all queued batches. It
// returns requeue=true when an unmet gate stopped the pass early.
func (c *Coordinator) RunPass(ctx context.Context) (requeue bool, err error) {
	batches, err := c.store.QueuedBatches()
	if err != nil {
		return false, err
	}
	for _, b := range batches {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if ok, reason := c.gate.Ready(ctx); !ok {
			c.log.Info("queue: pass deferred", slog.String("reason", reason))
			return true, nil
		}
		if err := c.processBatch(ctx, b); err != nil {
			if ctx.Err() != nil {
				// In-flight batch stays processing for the next run.
				return false, ctx.Err()
			}
			c.log.Error("queue: batch failed",
				slog.String("batch", b.ID), slog.String("error", err.Error()))
		}
	}
	return false, nil
}

func (c *Coordinator) processBatch(ctx context.Context, b models.Batch) error {
	if err := c.setBatchStatus(&b, models.BatchProcessing); err != nil {
		return err
	}

	pages, err := c.store.PagesForBatch(b.ID)
	if err != nil {
		return err
	}

	errored := 0
	for _, p := range pages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch p.Status {
		case models.PageFiled:
			continue
		case models.PageError:
			errored++
			continue
		}
		if err := c.processPage(ctx, &p); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errored++
			c.log.Warn("queue: page failed",
				slog.String("page", p.ID), slog.String("error", err.Error()))
			if serr := c.store.SetPageError(p.ID, err.Error()); serr != nil {
				c.log.Error("queue: record page error", slog.String("error", serr.Error()))
			}
			p.Status = models.PageError
			p.Error = err.Error()
			c.notify.PageChanged(p)
		}
	}

	status := models.BatchDone
	if errored > 0 {
		status = models.BatchError
	}
	return c.setBatchStatus(&b, status)
}

// processPage drives one page through transcription, validation, vault
// write, and index update. Any returned error marks the page errored
// without affecting its siblings.
func (c *Coordinator) processPage(ctx context.Context, p *models.Page) error {
	c.advancePage(p, models.PagePreprocessing)

	image, err := c.files.Read(p.ImagePath())
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	c.advancePage(p, models.PageTranscribing)

	res, err := c.proc.Process(ctx, image, mimeForPath(p.ImagePath()), pipeline.Context{
		Rules:      pipeline.Rules,
		LedgerJSON: c.engine.LedgerJSON(),
		Structure:  c.engine.StructureText(),
		Folders:    vault.Folders(),
	})
	if err != nil {
		return err
	}

	p.Transcript = res.Transcript
	p.TranscriptJSON = res.TranscriptJSON
	p.StructuredMD = res.Markdown
	p.StructuredJSON = res.StructuredJSON
	p.Confidence = res.Confidence
	p.Status = models.PageStructured
	if err := c.store.UpdatePage(*p); err != nil {
		return err
	}
	c.notify.PageChanged(*p)

	wr, err := c.writer.WriteNote(*p, res)
	if err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	if err := c.engine.IndexNote(wr.NotePath); err != nil {
		return fmt.Errorf("index note: %w", err)
	}

	p.NotePath = wr.NotePath
	p.Status = models.PageFiled
	if err := c.store.UpdatePage(*p); err != nil {
		return err
	}
	c.notify.PageChanged(*p)
	return nil
}

// advancePage records a transient status transition, logging rather
// than failing when the store write misses.
func (c *Coordinator) advancePage(p *models.Page, status models.PageStatus) {
	if err := c.store.SetPageStatus(p.ID, status); err != nil {
		c.log.Error("queue: set page status",
			slog.String("page", p.ID), slog.String("error", err.Error()))
		return
	}
	p.Status = status
	p.Error = ""
	c.notify.PageChanged(*p)
}

func (c *Coordinator) setBatchStatus(b *models.Batch, status models.BatchStatus) error {
	if err := c.store.SetBatchStatus(b.ID, status); err != nil {
		return err
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	c.notify.BatchChanged(*b)
	return nil
}

// RetryPage resets an errored page to re-enter the pipeline and requeues
// its batch. Sibling pages are untouched.
func (c *Coordinator) RetryPage(id string) error {
	p, err := c.store.GetPage(id)
	if err != nil {
		return err
	}
	if p.Status != models.PageError {
		return fmt.Errorf("queue: page %s is %s, only errored pages can be retried", id, p.Status)
	}
	if err := c.store.SetPageStatus(id, models.PageCaptured); err != nil {
		return err
	}
	if err := c.store.SetBatchStatus(p.BatchID, models.BatchQueued); err != nil {
		return err
	}
	c.Trigger()
	return nil
}

// RetryBatch resets every errored page in the batch and requeues it.
func (c *Coordinator) RetryBatch(id string) error {
	pages, err := c.store.PagesForBatch(id)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if p.Status != models.PageError {
			continue
		}
		if err := c.store.SetPageStatus(p.ID, models.PageCaptured); err != nil {
			return err
		}
	}
	if err := c.store.SetBatchStatus(id, models.BatchQueued); err != nil {
		return err
	}
	c.Trigger()
	return nil
}

// QueueBatch moves an open batch into the processing queue and triggers
// a pass.
func (c *Coordinator) QueueBatch(id string) error {
	b, err := c.store.GetBatch(id)
	if err != nil {
		return err
	}
	if b.Status != models.BatchOpen && b.Status != models.BatchError {
		return fmt.Errorf("queue: batch %s is %s, cannot queue", id, b.Status)
	}
	if err := c.store.SetBatchStatus(id, models.BatchQueued); err != nil {
		return err
	}
	c.Trigger()
	return nil
}

// mimeForPath maps an image filename to its MIME type, defaulting to
// JPEG for unknown extensions.
func mimeForPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
