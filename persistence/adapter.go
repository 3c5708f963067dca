// Package persistence implements the storage layer the Manager depends on:
// a small set of operations for loading incomplete downloads on startup and
// recording structural and progress changes, backed by an embedded SQLite
// database.
package persistence

import (
	"github.com/google/uuid"

	"netmanthan/internal/model"
)

// Adapter is the storage contract the Manager depends on. Implementations
// must make Insert atomic across the downloads and download_parts tables.
type Adapter interface {
	// Insert writes download and its parts in one atomic unit.
	Insert(download *model.Download) error
	// Update updates non-id columns; it ignores parts.
	Update(download *model.Download) error
	// UpdatePartBytes updates one part's bytes_downloaded column.
	UpdatePartBytes(partID uuid.UUID, bytesDownloaded int64) error
	// Delete removes a download and cascades to its parts.
	Delete(downloadID uuid.UUID) error
	// ListAll returns every persisted download, parts included.
	ListAll() ([]*model.Download, error)
	// ListIncomplete returns downloads whose derived status was not
	// Complete as of their last persisted transition.
	ListIncomplete() ([]*model.Download, error)
	// ListPaused returns downloads persisted with paused = true.
	ListPaused() ([]*model.Download, error)
	// MarkComplete sets date_finished = now, size_downloaded = total_size,
	// and clears the paused/error flags.
	MarkComplete(downloadID uuid.UUID) error
	// Close releases the underlying store handle.
	Close() error
}
