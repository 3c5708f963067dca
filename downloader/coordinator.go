package downloader

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
	"netmanthan/utils"
)

// CoordinatorConfig is the per-download configuration a Coordinator needs,
// sourced from the loaded Config at Manager add-time.
type CoordinatorConfig struct {
	ConnectionsPerServer int
	BufferSizeBytes      int
	UpdateInterval       time.Duration
	SampleInterval       time.Duration
	RetryCount           int
	Transport            *http.Transport
}

// Coordinator owns one Download end-to-end: probing, planning,
// preallocating, spawning workers and the aggregator, and observing
// completion. It is a long-lived object with start/pause/cancel/resume
// entry points rather than one synchronous function.
type Coordinator struct {
	download *model.Download
	cfg      CoordinatorConfig
	client   *http.Client
	fileOps  *utils.FileOperations
	store    PartStore

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	agg        *Aggregator
	onTerminal func(*model.Download, model.Status)
}

// PartStore is the slice of the Persistence Adapter a Coordinator needs to
// persist progress without depending on the whole adapter interface.
type PartStore interface {
	UpdatePartBytes(partID uuid.UUID, bytesDownloaded int64) error
	Update(download *model.Download) error
	MarkComplete(downloadID uuid.UUID) error
}

// NewCoordinator builds a Coordinator for an already-created Download.
func NewCoordinator(d *model.Download, cfg CoordinatorConfig, store PartStore, onTerminal func(*model.Download, model.Status)) *Coordinator {
	transport := cfg.Transport
	if transport == nil {
		transport, _ = NewTransport(DefaultTransportConfig())
	}
	return &Coordinator{
		download:   d,
		cfg:        cfg,
		client:     &http.Client{Transport: transport},
		fileOps:    utils.NewFileOperations(),
		store:      store,
		onTerminal: onTerminal,
	}
}

// Snapshot returns the most recent AggregateSnapshot folded by this
// download's aggregator, and false if the download isn't currently running
// (or the first fold hasn't happened yet). The Manager and RPC layer pull
// this on demand rather than subscribing to a broadcast.
func (c *Coordinator) Snapshot() (AggregateSnapshot, bool) {
	c.mu.Lock()
	agg := c.agg
	c.mu.Unlock()
	if agg == nil {
		return AggregateSnapshot{}, false
	}
	return agg.Latest()
}

// Start is idempotent: if the layout is None, it probes and plans; it then
// preallocates the output file, spawns the aggregator and one worker per
// part, and returns immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.download.Layout().Kind == model.LayoutNone {
		if err := c.plan(ctx); err != nil {
			c.download.SetExplicitStatus(model.StatusFailed)
			return err
		}
	}

	total := c.download.Layout().TotalSize()
	if err := c.fileOps.Preallocate(c.download.Path, total); err != nil {
		c.download.SetExplicitStatus(model.StatusFailed)
		return nmerr.IO("preallocate", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	layout := c.download.Layout()
	if len(layout.Parts) == 0 {
		c.download.SetExplicitStatus(model.StatusComplete)
		c.finish(model.StatusComplete)
		return nil
	}

	samples := make(chan model.Snapshot, 100)
	var wg sync.WaitGroup
	pending := 0
	for _, part := range layout.Parts {
		if part.Status() == model.StatusComplete {
			continue // already fetched in a prior run; nothing to resume
		}
		part.SetStatus(model.StatusQueued)
		pending++
		wg.Add(1)
		go func(p *model.Part) {
			defer wg.Done()
			c.runWorker(runCtx, p, samples)
		}(part)
	}
	if pending == 0 {
		c.download.SetExplicitStatus(model.StatusComplete)
		c.finish(model.StatusComplete)
		return nil
	}

	initial := make([]model.Snapshot, len(layout.Parts))
	for i, p := range layout.Parts {
		initial[i] = p.Snapshot()
	}
	agg := NewAggregator(c.cfg.UpdateInterval, c.download.ExplicitStatus())
	c.mu.Lock()
	c.agg = agg
	c.mu.Unlock()

	go func() {
		agg.Run(runCtx, initial, samples)
	}()

	go func() {
		wg.Wait()
		close(samples)
		final := c.download.DerivedStatus()
		c.finish(final)
	}()

	return nil
}

func (c *Coordinator) runWorker(ctx context.Context, part *model.Part, samples chan<- model.Snapshot) {
	layout := c.download.Layout()
	ranged := layout.Kind == model.LayoutResumable

	w := NewWorker(WorkerConfig{
		URL:            c.download.URL,
		Headers:        c.download.Headers,
		Referrer:       c.download.Referrer,
		Ranged:         ranged,
		RangeStart:     part.Start,
		RangeEnd:       part.End,
		FilePath:       c.download.Path,
		BufferSize:     c.cfg.BufferSizeBytes,
		SampleInterval: c.cfg.SampleInterval,
		RetryCount:     c.cfg.RetryCount,
		Client:         c.client,
		StopStatus:     c.download.ExplicitStatus,
	}, part)
	w.Run(ctx, samples)

	if c.store != nil {
		_ = c.store.UpdatePartBytes(part.ID, part.BytesDownloaded())
	}
}

// plan performs the probe and builds the part layout.
func (c *Coordinator) plan(ctx context.Context) error {
	probe, err := Probe(ctx, c.client, c.download.URL, c.download.Headers, c.download.Referrer)
	if err != nil {
		return err
	}

	if c.download.Filename == "" {
		c.download.Filename = ResolveFilename("", probe, c.download.URL, c.download.ID.String())
	}
	c.download.Path = filepath.Join(c.download.Dir, c.download.Filename)

	if probe.ContentLength > 0 && probe.AcceptsRanges {
		n := c.cfg.ConnectionsPerServer
		if n <= 0 {
			n = 5
		}
		raw := CalculateParts(probe.ContentLength, PartsForSize(probe.ContentLength, n))
		parts := make([]*model.Part, len(raw))
		for i := range raw {
			p := raw[i]
			p.ID = uuid.New()
			parts[i] = &p
		}
		c.download.SetLayout(model.PartLayout{Kind: model.LayoutResumable, Parts: parts})
		return nil
	}

	part := &model.Part{ID: uuid.New(), TotalSize: probe.ContentLength}
	c.download.SetLayout(model.PartLayout{Kind: model.LayoutNonResumable, Parts: []*model.Part{part}})
	return nil
}

// Pause sets the cancellation signal; once workers exit, non-terminal
// parts become Paused and the download is persisted.
func (c *Coordinator) Pause() {
	c.signalStop(model.StatusPaused)
}

// Cancel sets the cancellation signal; once workers exit, non-terminal
// parts become Cancelled.
func (c *Coordinator) Cancel() {
	c.signalStop(model.StatusCancelled)
}

func (c *Coordinator) signalStop(terminal model.Status) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	c.download.SetExplicitStatus(terminal)
	cancel()
}

// Resume requeues the existing layout's Paused and Failed parts, which keep
// their bytes_downloaded, and re-invokes Start with a fresh cancellation
// signal. A cancelled download is left as it is.
func (c *Coordinator) Resume(ctx context.Context) error {
	if c.download.ExplicitStatus() == model.StatusCancelled {
		return nil
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	for _, p := range c.download.Layout().Parts {
		if p.Status() == model.StatusPaused || p.Status() == model.StatusFailed {
			p.SetStatus(model.StatusQueued)
		}
	}
	c.download.SetExplicitStatus(model.StatusQueued)
	return c.Start(ctx)
}

// finish marks the Coordinator no longer running and notifies whichever
// caller tracks terminal transitions (typically the Manager) so it can
// persist the final state.
func (c *Coordinator) finish(status model.Status) {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	if status == model.StatusComplete {
		now := time.Now()
		c.download.MarkFinished(now)
		if c.store != nil {
			_ = c.store.MarkComplete(c.download.ID)
		}
	} else if c.store != nil {
		_ = c.store.Update(c.download)
	}

	if c.onTerminal != nil {
		c.onTerminal(c.download, status)
	}
}

// IsRunning reports whether workers are currently active for this download.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
