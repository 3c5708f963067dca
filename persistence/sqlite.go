package persistence

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	download_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	referrer TEXT,
	download_link TEXT NOT NULL,
	resumable INTEGER NOT NULL,
	total_size INTEGER NOT NULL,
	size_downloaded INTEGER NOT NULL,
	average_speed INTEGER NOT NULL,
	date_added TEXT NOT NULL,
	date_finished TEXT,
	active_time INTEGER NOT NULL,
	paused INTEGER NOT NULL DEFAULT 0,
	error INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS download_parts (
	download_id TEXT NOT NULL REFERENCES downloads(download_id) ON DELETE CASCADE,
	part_id TEXT PRIMARY KEY,
	start_bytes INTEGER NOT NULL,
	end_bytes INTEGER NOT NULL,
	total_bytes INTEGER NOT NULL,
	bytes_downloaded INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_download_parts_download_id ON download_parts(download_id);
`

// SQLiteAdapter implements Adapter over an embedded, pure-Go SQLite store
// (modernc.org/sqlite, no cgo), with downloads and download_parts as two
// separate tables joined by download_id.
type SQLiteAdapter struct {
	db *sql.DB
}

// Open connects to (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nmerr.Persistence("opening database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers per connection

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, nmerr.Persistence("enabling foreign keys", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nmerr.Persistence("creating schema", err)
	}
	return &SQLiteAdapter{db: db}, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// Insert writes download and its parts in one atomic unit.
func (a *SQLiteAdapter) Insert(d *model.Download) error {
	tx, err := a.db.Begin()
	if err != nil {
		return nmerr.Persistence("beginning transaction", err)
	}
	defer tx.Rollback()

	layout := d.Layout()
	resumable := layout.Kind == model.LayoutResumable

	_, err = tx.Exec(
		`INSERT INTO downloads
			(download_id, filename, path, referrer, download_link, resumable, total_size,
			 size_downloaded, average_speed, date_added, date_finished, active_time, paused, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.Filename, d.Path, nullableString(d.Referrer), d.URL, resumable,
		layout.TotalSize(), d.BytesDownloaded(), int64(d.AverageSpeed()),
		d.DateAdded.Format(time.RFC3339), nullableTime(d.DateFinished()),
		int64(d.ActiveTime().Seconds()), d.Paused(), d.Error(),
	)
	if err != nil {
		return nmerr.Persistence("inserting download", err)
	}

	for _, p := range layout.Parts {
		if err := insertPart(tx, d.ID, p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return nmerr.Persistence("committing insert", err)
	}
	return nil
}

func insertPart(tx *sql.Tx, downloadID uuid.UUID, p *model.Part) error {
	_, err := tx.Exec(
		`INSERT INTO download_parts
			(download_id, part_id, start_bytes, end_bytes, total_bytes, bytes_downloaded)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		downloadID.String(), p.ID.String(), p.Start, p.End, p.RangeSize(), p.BytesDownloaded(),
	)
	if err != nil {
		return nmerr.Persistence("inserting part", err)
	}
	return nil
}

// Update updates non-id columns; it ignores parts (per-part updates go
// through UpdatePartBytes).
func (a *SQLiteAdapter) Update(d *model.Download) error {
	layout := d.Layout()
	resumable := layout.Kind == model.LayoutResumable

	_, err := a.db.Exec(
		`UPDATE downloads SET
			filename = ?, path = ?, referrer = ?, download_link = ?, resumable = ?,
			total_size = ?, size_downloaded = ?, average_speed = ?, date_finished = ?,
			active_time = ?, paused = ?, error = ?
		 WHERE download_id = ?`,
		d.Filename, d.Path, nullableString(d.Referrer), d.URL, resumable,
		layout.TotalSize(), d.BytesDownloaded(), int64(d.AverageSpeed()),
		nullableTime(d.DateFinished()), int64(d.ActiveTime().Seconds()), d.Paused(), d.Error(),
		d.ID.String(),
	)
	if err != nil {
		return nmerr.Persistence("updating download", err)
	}
	return nil
}

// UpdatePartBytes updates one part's bytes_downloaded column.
func (a *SQLiteAdapter) UpdatePartBytes(partID uuid.UUID, bytesDownloaded int64) error {
	_, err := a.db.Exec(
		`UPDATE download_parts SET bytes_downloaded = ? WHERE part_id = ?`,
		bytesDownloaded, partID.String(),
	)
	if err != nil {
		return nmerr.Persistence("updating part bytes", err)
	}
	return nil
}

// Delete removes a download and cascades to its parts.
func (a *SQLiteAdapter) Delete(downloadID uuid.UUID) error {
	_, err := a.db.Exec(`DELETE FROM downloads WHERE download_id = ?`, downloadID.String())
	if err != nil {
		return nmerr.Persistence("deleting download", err)
	}
	return nil
}

// MarkComplete sets date_finished = now, size_downloaded = total_size, and
// clears the paused/error flags.
func (a *SQLiteAdapter) MarkComplete(downloadID uuid.UUID) error {
	_, err := a.db.Exec(
		`UPDATE downloads SET
			date_finished = ?, size_downloaded = total_size, paused = 0, error = 0
		 WHERE download_id = ?`,
		time.Now().Format(time.RFC3339), downloadID.String(),
	)
	if err != nil {
		return nmerr.Persistence("marking download complete", err)
	}
	return nil
}

// ListAll returns every persisted download, parts included.
func (a *SQLiteAdapter) ListAll() ([]*model.Download, error) {
	return a.list("")
}

// ListIncomplete returns downloads that have no date_finished; their
// size_downloaded is not compared with total_size.
func (a *SQLiteAdapter) ListIncomplete() ([]*model.Download, error) {
	return a.list("WHERE date_finished IS NULL")
}

// ListPaused returns downloads persisted with paused = true.
func (a *SQLiteAdapter) ListPaused() ([]*model.Download, error) {
	return a.list("WHERE paused = 1")
}

func (a *SQLiteAdapter) list(whereClause string) ([]*model.Download, error) {
	query := `SELECT download_id, filename, path, referrer, download_link, resumable,
		total_size, size_downloaded, average_speed, date_added, date_finished, active_time,
		paused, error FROM downloads ` + whereClause

	rows, err := a.db.Query(query)
	if err != nil {
		return nil, nmerr.Persistence("listing downloads", err)
	}
	defer rows.Close()

	var downloads []*model.Download
	for rows.Next() {
		d, resumable, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		parts, err := a.loadParts(d.ID)
		if err != nil {
			return nil, err
		}
		kind := model.LayoutNonResumable
		if resumable {
			kind = model.LayoutResumable
		}
		if len(parts) == 0 {
			kind = model.LayoutNone
		}
		d.SetLayout(model.PartLayout{Kind: kind, Parts: parts})
		downloads = append(downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nmerr.Persistence("reading download rows", err)
	}
	return downloads, nil
}

func scanDownload(rows *sql.Rows) (*model.Download, bool, error) {
	var (
		idStr, filename, path, downloadLink, dateAdded string
		referrer, dateFinished                         sql.NullString
		resumable, paused, errFlag                     bool
		totalSize, sizeDownloaded, averageSpeed         int64
		activeTimeSeconds                               int64
	)

	if err := rows.Scan(&idStr, &filename, &path, &referrer, &downloadLink, &resumable,
		&totalSize, &sizeDownloaded, &averageSpeed, &dateAdded, &dateFinished,
		&activeTimeSeconds, &paused, &errFlag); err != nil {
		return nil, false, nmerr.Persistence("scanning download row", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, false, nmerr.Persistence("parsing download id", err)
	}

	d := &model.Download{
		ID:       id,
		URL:      downloadLink,
		Referrer: referrer.String,
		Dir:      "",
		Filename: filename,
		Path:     path,
	}
	if parsed, err := time.Parse(time.RFC3339, dateAdded); err == nil {
		d.DateAdded = parsed
	}
	d.SetAverageSpeed(float64(averageSpeed))
	d.AddActiveTime(time.Duration(activeTimeSeconds) * time.Second)
	d.SetPaused(paused)
	d.SetError(errFlag)
	if dateFinished.Valid {
		if parsed, err := time.Parse(time.RFC3339, dateFinished.String); err == nil {
			d.MarkFinished(parsed)
		}
	}
	explicit := model.StatusPaused
	if !paused {
		explicit = model.StatusCreated
	}
	d.SetExplicitStatus(explicit)

	return d, resumable, nil
}

func (a *SQLiteAdapter) loadParts(downloadID uuid.UUID) ([]*model.Part, error) {
	rows, err := a.db.Query(
		`SELECT part_id, start_bytes, end_bytes, total_bytes, bytes_downloaded
		 FROM download_parts WHERE download_id = ? ORDER BY start_bytes ASC`,
		downloadID.String(),
	)
	if err != nil {
		return nil, nmerr.Persistence("listing parts", err)
	}
	defer rows.Close()

	var parts []*model.Part
	for rows.Next() {
		var partIDStr string
		var start, end, totalBytes, bytesDownloaded int64
		if err := rows.Scan(&partIDStr, &start, &end, &totalBytes, &bytesDownloaded); err != nil {
			return nil, nmerr.Persistence("scanning part row", err)
		}
		partID, err := uuid.Parse(partIDStr)
		if err != nil {
			return nil, nmerr.Persistence("parsing part id", err)
		}
		p := &model.Part{ID: partID, Start: start, End: end}
		if start == 0 && end == 0 && totalBytes > 0 {
			p.TotalSize = totalBytes
		}
		p.SeedBytesDownloaded(bytesDownloaded)
		if bytesDownloaded > 0 && bytesDownloaded >= p.RangeSize() && p.RangeSize() > 0 {
			p.SetStatus(model.StatusComplete)
		} else {
			p.SetStatus(model.StatusPaused)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nmerr.Persistence("reading part rows", err)
	}
	return parts, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
