// Package manager implements the Download Manager: the single-writer
// custodian of every live download, serializing add/pause/resume/cancel/
// query commands through a bounded mailbox and running a periodic tick
// that reads each download's part progress into its in-memory model. One goroutine
// owns the map of Coordinators; every mutation is funneled through its
// mailbox rather than guarded by a lock shared with callers.
package manager

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netmanthan/downloader"
	"netmanthan/internal/logging"
	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
	"netmanthan/persistence"
)

// AddRequest is the payload of an AddDownload command.
type AddRequest struct {
	URL      string
	FileDir  string
	Filename string
	Referrer string
	Headers  []model.Header
}

// ListFilter narrows ListDownloads to a subset; a zero-value filter (no
// statuses) returns every download.
type ListFilter struct {
	Statuses []model.Status
}

func (f ListFilter) matches(s model.Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if want == s {
			return true
		}
	}
	return false
}

// Snapshot is a read-only view of one download's current state, the shape
// returned by GetDownload/ListDownloads and sent to RPC clients.
type Snapshot struct {
	ID              uuid.UUID
	URL             string
	Filename        string
	Path            string
	Status          model.Status
	BytesDownloaded int64
	TotalBytes      int64
	Speed           float64
	DateAdded       time.Time
	DateFinished    *time.Time
	ActiveTime      time.Duration
}

// Config is the Manager's live, atomically-replaceable configuration.
type Config struct {
	AutoResume           bool
	ConnectionsPerServer int
	UpdateInterval       time.Duration
	BufferSizeBytes      int
	RetryCount           int
	DownloadDir          string
}

// entry is the Manager's bookkeeping for one live download.
type entry struct {
	download    *model.Download
	coordinator *downloader.Coordinator
	tickCount   int
}

// command is the mailbox's single message envelope; exactly one of the
// reply channels is used, matching the operation.
type command struct {
	kind   commandKind
	add    AddRequest
	ids    []uuid.UUID
	filter ListFilter
	cfg    *Config
	delete bool

	replySnapshot  chan Snapshot
	replySnapshots chan []Snapshot
	replyID        chan uuid.UUID
	replyConfig    chan Config
	replyErr       chan error
}

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdGet
	cmdList
	cmdPause
	cmdResume
	cmdCancel
	cmdGetConfig
	cmdSetConfig
)

// Manager owns every live Coordinator and the single goroutine that
// mutates them; all public methods communicate with that goroutine over
// the mailbox channel and block for a reply.
type Manager struct {
	store     persistence.Adapter
	transport *http.Transport

	mailbox chan command
	done    chan struct{}

	mu      sync.RWMutex
	cfg     Config
	entries map[uuid.UUID]*entry
}

// New constructs a Manager. Call Run in a goroutine to start its mailbox
// and tick loop, and LoadIncomplete beforehand to seed from storage.
func New(store persistence.Adapter, transport *http.Transport, cfg Config) *Manager {
	return &Manager{
		store:     store,
		transport: transport,
		mailbox:   make(chan command, 64),
		done:      make(chan struct{}),
		cfg:       cfg,
		entries:   make(map[uuid.UUID]*entry),
	}
}

// LoadIncomplete reads incomplete downloads from the Persistence Adapter,
// reconstructs their layouts, and sets status to Paused. It resumes nothing
// itself: when cfg.AutoResume is set it returns their ids for the caller to
// resume once Run is going, otherwise it returns no ids.
func (m *Manager) LoadIncomplete(ctx context.Context) ([]uuid.UUID, error) {
	downloads, err := m.store.ListIncomplete()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	var toResume []uuid.UUID
	for _, d := range downloads {
		d.SetExplicitStatus(model.StatusPaused)
		coord := downloader.NewCoordinator(d, m.coordinatorConfig(), &storeAdapter{m.store}, m.onTerminal)
		m.entries[d.ID] = &entry{download: d, coordinator: coord}
		if m.cfg.AutoResume {
			toResume = append(toResume, d.ID)
		}
	}
	m.mu.Unlock()

	return toResume, nil
}

// Run executes the mailbox/tick loop until ctx is cancelled; it is meant
// to be started in its own goroutine and is the only goroutine that
// mutates Manager state directly. Ticks take precedence over queued
// commands so progress reporting is never starved by a burst of requests.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.coordinatorConfig().UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick()
			m.drainCommandsNonBlocking(ctx)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
			m.drainCommandsNonBlocking(ctx)
		case cmd := <-m.mailbox:
			m.handle(ctx, cmd)
		}
	}
}

// drainCommandsNonBlocking lets any commands that arrived during a tick
// run immediately after it, without waiting for the next select iteration,
// while never letting command handling starve the next tick.
func (m *Manager) drainCommandsNonBlocking(ctx context.Context) {
	for {
		select {
		case cmd := <-m.mailbox:
			m.handle(ctx, cmd)
		default:
			return
		}
	}
}

// AddDownload enqueues a new download and blocks until the Coordinator has
// been started for it, returning its id.
func (m *Manager) AddDownload(req AddRequest) (uuid.UUID, error) {
	reply := make(chan uuid.UUID, 1)
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdAdd, add: req, replyID: reply, replyErr: errc}
	select {
	case id := <-reply:
		return id, nil
	case err := <-errc:
		return uuid.Nil, err
	}
}

// GetDownload returns a snapshot of one download, or an error if unknown.
func (m *Manager) GetDownload(id uuid.UUID) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdGet, ids: []uuid.UUID{id}, replySnapshot: reply, replyErr: errc}
	select {
	case snap := <-reply:
		return snap, nil
	case err := <-errc:
		return Snapshot{}, err
	}
}

// ListDownloads returns a snapshot of every download matching filter.
func (m *Manager) ListDownloads(filter ListFilter) []Snapshot {
	reply := make(chan []Snapshot, 1)
	m.mailbox <- command{kind: cmdList, filter: filter, replySnapshots: reply}
	return <-reply
}

// PauseDownloads requests cancellation (with Paused as the terminal
// status) for each id, returning once the command has been processed.
func (m *Manager) PauseDownloads(ids []uuid.UUID) error {
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdPause, ids: ids, replyErr: errc}
	return <-errc
}

// ResumeDownloads re-invokes start() for each id via the Coordinator.
func (m *Manager) ResumeDownloads(ids []uuid.UUID) error {
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdResume, ids: ids, replyErr: errc}
	return <-errc
}

// CancelDownloads requests cancellation (with Cancelled as the terminal
// status) for each id, optionally deleting the partial output file.
func (m *Manager) CancelDownloads(ids []uuid.UUID, deleteFiles bool) error {
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdCancel, ids: ids, delete: deleteFiles, replyErr: errc}
	return <-errc
}

// GetConfig returns the Manager's current configuration.
func (m *Manager) GetConfig() Config {
	reply := make(chan Config, 1)
	m.mailbox <- command{kind: cmdGetConfig, replyConfig: reply}
	return <-reply
}

// SetConfig atomically replaces the Manager's configuration.
func (m *Manager) SetConfig(cfg Config) error {
	errc := make(chan error, 1)
	m.mailbox <- command{kind: cmdSetConfig, cfg: &cfg, replyErr: errc}
	return <-errc
}

func (m *Manager) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdAdd:
		id, err := m.doAdd(ctx, cmd.add)
		if err != nil {
			cmd.replyErr <- err
			return
		}
		cmd.replyID <- id
	case cmdGet:
		snap, ok := m.doGet(cmd.ids[0])
		if !ok {
			cmd.replyErr <- nmerr.New(nmerr.KindIO, "download not found")
			return
		}
		cmd.replySnapshot <- snap
	case cmdList:
		cmd.replySnapshots <- m.doList(cmd.filter)
	case cmdPause:
		m.doPause(cmd.ids)
		cmd.replyErr <- nil
	case cmdResume:
		m.doResume(ctx, cmd.ids)
		cmd.replyErr <- nil
	case cmdCancel:
		m.doCancel(cmd.ids, cmd.delete)
		cmd.replyErr <- nil
	case cmdGetConfig:
		m.mu.RLock()
		cfg := m.cfg
		m.mu.RUnlock()
		cmd.replyConfig <- cfg
	case cmdSetConfig:
		m.mu.Lock()
		m.cfg = *cmd.cfg
		m.mu.Unlock()
		cmd.replyErr <- nil
	}
}

func (m *Manager) coordinatorConfig() downloader.CoordinatorConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return downloader.CoordinatorConfig{
		ConnectionsPerServer: m.cfg.ConnectionsPerServer,
		BufferSizeBytes:      m.cfg.BufferSizeBytes,
		UpdateInterval:       m.cfg.UpdateInterval,
		SampleInterval:       m.cfg.UpdateInterval / 2,
		RetryCount:           m.cfg.RetryCount,
		Transport:            m.transport,
	}
}

func (m *Manager) doAdd(ctx context.Context, req AddRequest) (uuid.UUID, error) {
	dir := req.FileDir
	if dir == "" {
		m.mu.RLock()
		dir = m.cfg.DownloadDir
		m.mu.RUnlock()
	}

	d := model.NewDownload(req.URL, dir)
	d.Referrer = req.Referrer
	d.Headers = req.Headers
	if req.Filename != "" {
		d.Filename = downloader.SanitizeFilename(req.Filename)
	}

	coord := downloader.NewCoordinator(d, m.coordinatorConfig(), &storeAdapter{m.store}, m.onTerminal)

	m.mu.Lock()
	m.entries[d.ID] = &entry{download: d, coordinator: coord}
	m.mu.Unlock()

	if err := m.store.Insert(d); err != nil {
		logging.Get().Warn("persisting new download", zap.Error(err))
	}

	if err := coord.Start(ctx); err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

func (m *Manager) doGet(id uuid.UUID) (Snapshot, bool) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return toSnapshot(e), true
}

func (m *Manager) doList(filter ListFilter) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.entries))
	for _, e := range m.entries {
		snap := toSnapshot(e)
		if filter.matches(snap.Status) {
			out = append(out, snap)
		}
	}
	return out
}

func (m *Manager) doPause(ids []uuid.UUID) {
	for _, e := range m.selectEntries(ids) {
		e.coordinator.Pause()
		e.download.SetPaused(true)
		if err := m.store.Update(e.download); err != nil {
			logging.Get().Warn("persisting pause", zap.Error(err))
		}
	}
}

func (m *Manager) doResume(ctx context.Context, ids []uuid.UUID) {
	for _, e := range m.selectEntries(ids) {
		e.download.SetPaused(false)
		e.download.SetError(false)
		if err := e.coordinator.Resume(ctx); err != nil {
			logging.Get().Warn("resuming download", zap.Error(err))
		}
	}
}

func (m *Manager) doCancel(ids []uuid.UUID, deleteFiles bool) {
	for _, e := range m.selectEntries(ids) {
		e.coordinator.Cancel()
		if deleteFiles {
			_ = deleteOutputFile(e.download.Path)
		}
	}
}

func (m *Manager) selectEntries(ids []uuid.UUID) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// persistEveryNTicks batches bytes_downloaded persistence so a tick every
// 250ms doesn't mean a write every 250ms.
const persistEveryNTicks = 4

// tick pulls the latest snapshot for every live download, accrues
// active_time since each download's last tick, and persists progress on
// every Nth tick.
func (m *Manager) tick() {
	now := time.Now()

	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		d := e.download
		status := d.DerivedStatus()
		if status.Active() {
			last := d.LastTick()
			if !last.IsZero() {
				d.AddActiveTime(now.Sub(last))
			}
		}
		d.SetLastTick(now)

		bytes := d.BytesDownloaded()
		if total := d.Layout().TotalSize(); total > 0 {
			elapsed := d.ActiveTime().Seconds()
			if elapsed > 0 {
				d.SetAverageSpeed(float64(bytes) / elapsed)
			}
		}

		e.tickCount++
		if e.tickCount%persistEveryNTicks == 0 {
			if err := m.store.Update(d); err != nil {
				logging.Get().Warn("persisting tick progress", zap.Error(err))
			}
		}
	}
}

// onTerminal is the Coordinator callback invoked once a download reaches
// a terminal derived status; it persists the final transition immediately
// rather than waiting for the next batched tick.
func (m *Manager) onTerminal(d *model.Download, status model.Status) {
	d.SetPaused(status == model.StatusPaused)
	d.SetError(status == model.StatusFailed)

	var err error
	if status == model.StatusComplete {
		err = m.store.MarkComplete(d.ID)
	} else {
		err = m.store.Update(d)
	}
	if err != nil {
		logging.Get().Warn("persisting terminal transition", zap.Error(err))
	}
}

func deleteOutputFile(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

// toSnapshot reads most fields straight off the Download/Part locks but
// prefers the coordinator's aggregator for Speed when one is running, since
// the aggregator's fold is the more current, already-computed instantaneous
// rate (summed across parts) rather than the tick-interval average.
func toSnapshot(e *entry) Snapshot {
	d := e.download
	snap := Snapshot{
		ID:              d.ID,
		URL:             d.URL,
		Filename:        d.Filename,
		Path:            d.Path,
		Status:          d.DerivedStatus(),
		BytesDownloaded: d.BytesDownloaded(),
		TotalBytes:      d.Layout().TotalSize(),
		Speed:           d.AverageSpeed(),
		DateAdded:       d.DateAdded,
		DateFinished:    d.DateFinished(),
		ActiveTime:      d.ActiveTime(),
	}
	if agg, ok := e.coordinator.Snapshot(); ok {
		snap.Speed = agg.Speed
	}
	return snap
}

// storeAdapter narrows persistence.Adapter down to the downloader.PartStore
// interface a Coordinator depends on.
type storeAdapter struct {
	adapter persistence.Adapter
}

func (s *storeAdapter) UpdatePartBytes(partID uuid.UUID, bytesDownloaded int64) error {
	return s.adapter.UpdatePartBytes(partID, bytesDownloaded)
}

func (s *storeAdapter) Update(d *model.Download) error { return s.adapter.Update(d) }

func (s *storeAdapter) MarkComplete(downloadID uuid.UUID) error {
	return s.adapter.MarkComplete(downloadID)
}

