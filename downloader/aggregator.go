package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"netmanthan/internal/model"
)

// AggregateSnapshot is the whole-download progress published by the
// Aggregator, folding the latest per-part sample into totals.
type AggregateSnapshot struct {
	Status          model.Status
	BytesDownloaded int64
	TotalBytes      int64
	Speed           float64
	Parts           []model.Snapshot
	Timestamp       time.Time
}

// Aggregator folds per-part samples from all of one download's workers into
// a periodically-refreshed AggregateSnapshot. Rather than broadcasting over
// a channel, it keeps the latest fold behind a mutex for Coordinator.Snapshot
// to pull on demand; the Manager's snapshots served to RPC's GetDownload/
// GetDownloads/WatchDownloads take their speed from that lock-guarded value.
type Aggregator struct {
	updateInterval time.Duration
	explicitStatus model.Status

	mu     sync.Mutex
	latest AggregateSnapshot
	ready  bool
}

// NewAggregator builds an Aggregator for a download whose derived-status
// fallback is explicitStatus.
func NewAggregator(updateInterval time.Duration, explicitStatus model.Status) *Aggregator {
	return &Aggregator{updateInterval: updateInterval, explicitStatus: explicitStatus}
}

// Latest returns the most recently folded snapshot and whether one has been
// computed yet (false until Run has stored its initial fold).
func (a *Aggregator) Latest() (AggregateSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.ready
}

// Run folds samples into per-part slots, refreshing Latest at most once per
// update_interval, and exits when ctx is cancelled or every part is terminal.
func (a *Aggregator) Run(ctx context.Context, initial []model.Snapshot, samples <-chan model.Snapshot) {
	slots := make([]model.Snapshot, len(initial))
	copy(slots, initial)
	indexByPart := make(map[uuid.UUID]int, len(slots))
	for i, s := range slots {
		indexByPart[s.PartID] = i
	}
	a.store(slots)

	ticker := time.NewTicker(a.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.store(slots)
			return

		case s, ok := <-samples:
			if !ok {
				a.store(slots)
				return
			}
			if idx, found := indexByPart[s.PartID]; found {
				slots[idx] = s
			}

		case <-ticker.C:
			a.store(slots)
			if allTerminal(slots) {
				return
			}
		}
	}
}

func (a *Aggregator) store(slots []model.Snapshot) {
	snap := a.fold(slots)
	a.mu.Lock()
	a.latest = snap
	a.ready = true
	a.mu.Unlock()
}

func (a *Aggregator) fold(slots []model.Snapshot) AggregateSnapshot {
	statuses := make([]model.Status, len(slots))
	var bytesDownloaded, totalBytes int64
	var speed float64
	for i, s := range slots {
		statuses[i] = s.Status
		bytesDownloaded += s.BytesDownloaded
		totalBytes += s.TotalBytes
		speed += s.Speed
	}
	parts := make([]model.Snapshot, len(slots))
	copy(parts, slots)
	return AggregateSnapshot{
		Status:          model.DeriveStatus(statuses, a.explicitStatus),
		BytesDownloaded: bytesDownloaded,
		TotalBytes:      totalBytes,
		Speed:           speed,
		Parts:           parts,
		Timestamp:       time.Now(),
	}
}

func allTerminal(slots []model.Snapshot) bool {
	if len(slots) == 0 {
		return false
	}
	for _, s := range slots {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}
