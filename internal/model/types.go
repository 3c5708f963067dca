// Package model holds the shared data model for downloads and their parts.
package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a download or a part.
type Status int

const (
	StatusCreated Status = iota
	StatusQueued
	StatusConnecting
	StatusRetrying
	StatusDownloading
	StatusPaused
	StatusComplete
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusQueued:
		return "queued"
	case StatusConnecting:
		return "connecting"
	case StatusRetrying:
		return "retrying"
	case StatusDownloading:
		return "downloading"
	case StatusPaused:
		return "paused"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether a part in this status will never transition again
// without an explicit resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled, StatusPaused:
		return true
	default:
		return false
	}
}

// Active reports whether active_time should accrue while a download is in
// this status (Connecting, Retrying, Downloading).
func (s Status) Active() bool {
	switch s {
	case StatusConnecting, StatusRetrying, StatusDownloading:
		return true
	default:
		return false
	}
}

// Header is a single request header name/value pair.
type Header struct {
	Name  string
	Value string
}

// Part is one contiguous byte range of the output file, fetched by one
// worker. For a NonResumable layout there is exactly one Part and its
// Start/End are both zero; TotalSize carries the (possibly unknown) size
// instead.
type Part struct {
	ID    uuid.UUID
	Start int64 // inclusive
	End   int64 // inclusive; meaningless when part belongs to a NonResumable layout
	// TotalSize is set only for the single part of a NonResumable layout,
	// where it may be 0 to mean "unknown".
	TotalSize int64

	mu              sync.Mutex
	status          Status
	bytesDownloaded int64
	currentSpeed    float64
	retryCount      int
}

// RangeSize returns the number of bytes this part covers.
func (p *Part) RangeSize() int64 {
	if p.TotalSize > 0 {
		return p.TotalSize
	}
	if p.End < p.Start {
		return 0
	}
	return p.End - p.Start + 1
}

// Snapshot is an immutable read of a part's current state.
type Snapshot struct {
	PartID          uuid.UUID
	Status          Status
	BytesDownloaded int64
	TotalBytes      int64
	Speed           float64
	RetryCount      int
	Timestamp       time.Time
}

// Snapshot returns the current state of the part under its mutex.
func (p *Part) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		PartID:          p.ID,
		Status:          p.status,
		BytesDownloaded: p.bytesDownloaded,
		TotalBytes:      p.RangeSize(),
		Speed:           p.currentSpeed,
		RetryCount:      p.retryCount,
		Timestamp:       time.Now(),
	}
}

// SetStatus sets the part's status under its mutex.
func (p *Part) SetStatus(s Status) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Status returns the part's current status under its mutex.
func (p *Part) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// BytesDownloaded returns the part's current byte count under its mutex.
func (p *Part) BytesDownloaded() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesDownloaded
}

// RetryCount returns the part's current retry count under its mutex.
func (p *Part) RetryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryCount
}

// IncrRetry bumps the retry counter and returns the new value.
func (p *Part) IncrRetry() int {
	p.mu.Lock()
	p.retryCount++
	n := p.retryCount
	p.mu.Unlock()
	return n
}

// OnFlush is invoked by the buffered writer each time it flushes bytesWritten
// new bytes to disk, elapsed since the previous flush. It updates the
// shared part state and flips status to Complete when the range is full.
func (p *Part) OnFlush(bytesWritten int64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytesDownloaded += bytesWritten
	if elapsed > 0 {
		p.currentSpeed = float64(bytesWritten) / elapsed.Seconds()
	}
	if rangeSize := p.RangeSize(); rangeSize > 0 && p.bytesDownloaded >= rangeSize {
		p.status = StatusComplete
	}
}

// SeedBytesDownloaded primes bytes_downloaded when resuming a part that
// already has persisted progress, without going through OnFlush (no speed
// sample should be attributed to work that happened in a previous run).
func (p *Part) SeedBytesDownloaded(n int64) {
	p.mu.Lock()
	p.bytesDownloaded = n
	p.mu.Unlock()
}

// PartLayoutKind discriminates the three PartLayout variants.
type PartLayoutKind int

const (
	LayoutNone PartLayoutKind = iota
	LayoutNonResumable
	LayoutResumable
)

// PartLayout is exactly one of None, NonResumable (single part, unknown or
// known total size), or Resumable (an ordered, contiguous, non-overlapping
// list of parts covering [0, total_size)).
type PartLayout struct {
	Kind  PartLayoutKind
	Parts []*Part
}

// TotalSize sums the configured sizes of all parts. For NonResumable layouts
// this is the single part's TotalSize (0 meaning unknown).
func (l PartLayout) TotalSize() int64 {
	switch l.Kind {
	case LayoutNonResumable:
		if len(l.Parts) == 1 {
			return l.Parts[0].TotalSize
		}
		return 0
	case LayoutResumable:
		var total int64
		for _, p := range l.Parts {
			total += p.RangeSize()
		}
		return total
	default:
		return 0
	}
}

// Download is one requested file transfer: identity, source, destination,
// timing, derived status, and its part layout.
type Download struct {
	ID        uuid.UUID
	URL       string
	Referrer  string
	Headers   []Header
	Dir       string
	Filename  string
	Path      string
	DateAdded time.Time

	mu             sync.Mutex
	layout         PartLayout
	explicitStatus Status
	activeTime     time.Duration
	lastTick       time.Time
	dateFinished   *time.Time
	pausedFlag     bool
	errorFlag      bool
	averageSpeed   float64
}

// NewDownload creates a Download in its initial Created state with a fresh
// random identity.
func NewDownload(url, dir string) *Download {
	return &Download{
		ID:             uuid.New(),
		URL:            url,
		Dir:            dir,
		DateAdded:      time.Now(),
		explicitStatus: StatusCreated,
	}
}

// Layout returns the download's current part layout.
func (d *Download) Layout() PartLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layout
}

// SetLayout replaces the download's part layout (called by the
// Coordinator's plan after the probe, and by the persistence layer when it
// loads a stored download).
func (d *Download) SetLayout(l PartLayout) {
	d.mu.Lock()
	d.layout = l
	d.mu.Unlock()
}

// ExplicitStatus returns the status the Download was last explicitly set
// to; it is the fallback branch of DeriveStatus's final rule.
func (d *Download) ExplicitStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.explicitStatus
}

// SetExplicitStatus records a status transition not derivable purely from
// part states (e.g. moving to Paused/Cancelled/Failed as a whole).
func (d *Download) SetExplicitStatus(s Status) {
	d.mu.Lock()
	d.explicitStatus = s
	d.mu.Unlock()
}

// DerivedStatus computes the download's current status from its parts via
// DeriveStatus, falling back to ExplicitStatus per rule 10.
func (d *Download) DerivedStatus() Status {
	layout := d.Layout()
	statuses := make([]Status, 0, len(layout.Parts))
	for _, p := range layout.Parts {
		statuses = append(statuses, p.Status())
	}
	return DeriveStatus(statuses, d.ExplicitStatus())
}

// BytesDownloaded sums bytes_downloaded across all parts.
func (d *Download) BytesDownloaded() int64 {
	layout := d.Layout()
	var total int64
	for _, p := range layout.Parts {
		total += p.BytesDownloaded()
	}
	return total
}

// AddActiveTime accumulates active_time by delta; callers should only do so
// for downloads whose derived status is in {Connecting, Retrying, Downloading}.
func (d *Download) AddActiveTime(delta time.Duration) {
	d.mu.Lock()
	d.activeTime += delta
	d.mu.Unlock()
}

// ActiveTime returns the accumulated active_time.
func (d *Download) ActiveTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeTime
}

// LastTick/SetLastTick track when the Manager last accrued active_time for
// this download, so each tick adds only (now - last_tick).
func (d *Download) LastTick() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick
}

func (d *Download) SetLastTick(t time.Time) {
	d.mu.Lock()
	d.lastTick = t
	d.mu.Unlock()
}

// MarkFinished records the completion timestamp.
func (d *Download) MarkFinished(at time.Time) {
	d.mu.Lock()
	d.dateFinished = &at
	d.mu.Unlock()
}

// DateFinished returns the completion timestamp, if any.
func (d *Download) DateFinished() *time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dateFinished
}

// SetPaused/SetError track the paused/error boolean columns of the schema
// independently of derived status, mirroring the persisted schema.
func (d *Download) SetPaused(v bool) {
	d.mu.Lock()
	d.pausedFlag = v
	d.mu.Unlock()
}

func (d *Download) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pausedFlag
}

func (d *Download) SetError(v bool) {
	d.mu.Lock()
	d.errorFlag = v
	d.mu.Unlock()
}

func (d *Download) Error() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errorFlag
}

// AverageSpeed returns the download's last-recorded average_speed column
// (bytes/sec), updated periodically by the Manager's tick.
func (d *Download) AverageSpeed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.averageSpeed
}

// SetAverageSpeed records a new average_speed sample.
func (d *Download) SetAverageSpeed(v float64) {
	d.mu.Lock()
	d.averageSpeed = v
	d.mu.Unlock()
}
