package rpc

import (
	"time"

	"github.com/google/uuid"
)

// Header mirrors model.Header over the wire without importing the model
// package's mutex-bearing types into the request payload.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Kind discriminates the flattened request/response union: one JSON object
// with a kind field and per-kind optional payload fields, rather than a
// manually-tagged json.RawMessage union.
type Kind string

const (
	KindAddDownload     Kind = "add_download"
	KindHeartBeat       Kind = "heart_beat"
	KindGetDownload     Kind = "get_download"
	KindGetDownloads    Kind = "get_downloads"
	KindPauseDownloads  Kind = "pause_downloads"
	KindResumeDownloads Kind = "resume_downloads"
	KindRemoveDownloads Kind = "remove_downloads"
	KindUpdateDownload  Kind = "update_download"
	KindGetConfig       Kind = "get_config"
	KindSetConfig       Kind = "set_config"
	KindWatchDownloads  Kind = "watch_downloads"

	KindDownload        Kind = "download"
	KindDownloads       Kind = "downloads"
	KindDownloadCreated Kind = "download_created"
	KindConfig          Kind = "config"
	KindError           Kind = "error"
)

// Request is the client→server envelope: { request_id, request: oneof }.
type Request struct {
	RequestID uint64 `json:"request_id"`
	Kind      Kind   `json:"kind"`

	AddDownload     *AddDownloadRequest     `json:"add_download,omitempty"`
	GetDownload     *GetDownloadRequest     `json:"get_download,omitempty"`
	PauseDownloads  *IDsRequest             `json:"pause_downloads,omitempty"`
	ResumeDownloads *IDsRequest             `json:"resume_downloads,omitempty"`
	RemoveDownloads *RemoveDownloadsRequest `json:"remove_downloads,omitempty"`
	UpdateDownload  *UpdateDownloadRequest  `json:"update_download,omitempty"`
	SetConfig       *ConfigPayload          `json:"set_config,omitempty"`
	WatchDownloads  *WatchDownloadsRequest  `json:"watch_downloads,omitempty"`
}

// AddDownloadRequest is AddDownload's payload.
type AddDownloadRequest struct {
	URL      string   `json:"url"`
	FileDir  string   `json:"file_dir"`
	Filename string   `json:"filename,omitempty"`
	Referrer string   `json:"referrer,omitempty"`
	Headers  []Header `json:"headers,omitempty"`
}

// GetDownloadRequest is GetDownload's payload.
type GetDownloadRequest struct {
	ID uuid.UUID `json:"id"`
}

// IDsRequest is the shared shape of PauseDownloads/ResumeDownloads.
type IDsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// RemoveDownloadsRequest is RemoveDownloads' payload.
type RemoveDownloadsRequest struct {
	IDs         []uuid.UUID `json:"ids"`
	DeleteFiles bool        `json:"delete_files"`
}

// UpdateDownloadRequest is UpdateDownload's payload.
type UpdateDownloadRequest struct {
	ID            uuid.UUID `json:"id"`
	NewURL        string    `json:"new_url,omitempty"`
	NewOutputPath string    `json:"new_output_path,omitempty"`
}

// WatchDownloadsRequest is the supplemental subscription request: it asks
// the server to push periodic Downloads snapshots for the named ids (or
// all, if empty) at interval_ms cadence until the client disconnects or
// issues another request on the same stream.
type WatchDownloadsRequest struct {
	IDs        []uuid.UUID `json:"ids"`
	IntervalMs uint32      `json:"interval_ms"`
}

// ConfigPayload is the wire shape of the Manager's Config.
type ConfigPayload struct {
	AutoResume           bool   `json:"auto_resume"`
	ConnectionsPerServer int    `json:"connections_per_server"`
	UpdateIntervalMs     uint32 `json:"update_interval_ms"`
	BufferSizeKB         uint32 `json:"buffer_size_kb"`
	RetryCount           int    `json:"retry_count"`
	DownloadDir          string `json:"download_dir"`
}

// Response is the server→client envelope: { request_id, response: oneof }.
type Response struct {
	RequestID uint64 `json:"request_id"`
	Kind      Kind   `json:"kind"`

	Download        *DownloadPayload  `json:"download,omitempty"`
	Downloads       []DownloadPayload `json:"downloads,omitempty"`
	DownloadCreated *uuid.UUID        `json:"download_created,omitempty"`
	Config          *ConfigPayload    `json:"config,omitempty"`
	Error           *ErrorPayload     `json:"error,omitempty"`
}

// DownloadPayload is the wire shape of a manager.Snapshot.
type DownloadPayload struct {
	ID              uuid.UUID  `json:"id"`
	URL             string     `json:"url"`
	Filename        string     `json:"filename"`
	Path            string     `json:"path"`
	Status          string     `json:"status"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	Speed           float64    `json:"speed"`
	DateAdded       time.Time  `json:"date_added"`
	DateFinished    *time.Time `json:"date_finished,omitempty"`
	ActiveTimeSec   int64      `json:"active_time_seconds"`
}

// ErrorPayload carries a typed error kind and message back to the client.
type ErrorPayload struct {
	ErrKind string `json:"err_kind"`
	Message string `json:"message"`
}
