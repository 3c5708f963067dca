package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
)

const readChunkSize = 32 * 1024

// WorkerConfig carries everything a Part Worker needs to fetch one byte
// range and write it to the output file.
type WorkerConfig struct {
	URL            string
	Headers        []model.Header
	Referrer       string
	Ranged         bool // false for a NonResumable layout's single part
	RangeStart     int64
	RangeEnd       int64 // inclusive; ignored when !Ranged
	FilePath       string
	BufferSize     int
	SampleInterval time.Duration
	RetryCount     int
	Client         *http.Client
	// StopStatus reports the status a cooperative stop should leave this
	// part in (Paused vs Cancelled); nil means always Cancelled.
	StopStatus func() model.Status
}

// Worker fetches one Part's byte range and reports progress through a
// buffered writer with a flush callback, without rate limiting or any
// origin-specific status handling.
type Worker struct {
	cfg  WorkerConfig
	part *model.Part
}

// NewWorker builds a Worker for one part.
func NewWorker(cfg WorkerConfig, part *model.Part) *Worker {
	return &Worker{cfg: cfg, part: part}
}

// Run drives the part until it finishes (Complete), fails (Failed), or is
// stopped (the status cfg.StopStatus reports, Cancelled when unset, so a
// pause leaves it Paused), retrying transient failures with exponential backoff up to
// cfg.RetryCount, emitting progress samples on the (possibly full, in
// which case samples are dropped) samples channel.
func (w *Worker) Run(ctx context.Context, samples chan<- model.Snapshot) {
	w.part.SetStatus(model.StatusConnecting)

	attempt := 0
	for {
		err := w.attempt(ctx, samples)
		if err == nil {
			return
		}

		if ctx.Err() != nil || isCancelled(err) {
			w.part.SetStatus(w.stopStatus())
			return
		}

		var nmErr *nmerr.Error
		retryable := errors.As(err, &nmErr) && nmErr.IsRetryable()
		if !retryable || attempt >= w.cfg.RetryCount {
			w.part.SetStatus(model.StatusFailed)
			return
		}

		attempt++
		w.part.IncrRetry()
		w.part.SetStatus(model.StatusRetrying)

		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			w.part.SetStatus(w.stopStatus())
			return
		}
	}
}

// stopStatus reports the status a cooperative stop leaves this part in,
// defaulting to Cancelled when the coordinator didn't specify one.
func (w *Worker) stopStatus() model.Status {
	if w.cfg.StopStatus == nil {
		return model.StatusCancelled
	}
	return w.cfg.StopStatus()
}

func isCancelled(err error) bool {
	var nmErr *nmerr.Error
	return errors.As(err, &nmErr) && nmErr.Kind == nmerr.KindCancelled
}

// backoffDelay implements bounded exponential backoff, grounded on the
// teacher's RetryConfig (utils/http.go, now removed): base 1s, doubling,
// capped at 30s.
func backoffDelay(attempt int) time.Duration {
	const base = time.Second
	const cap_ = 30 * time.Second
	d := base << uint(attempt-1)
	if d > cap_ || d <= 0 {
		return cap_
	}
	return d
}

// attempt performs one end-to-end fetch of the part's range. A ranged part
// resumes from its current bytes_downloaded; a whole-body part restarts
// from byte 0.
func (w *Worker) attempt(ctx context.Context, samples chan<- model.Snapshot) error {
	file, err := os.OpenFile(w.cfg.FilePath, os.O_WRONLY, 0o644)
	if err != nil {
		return nmerr.IO("open", err)
	}
	defer file.Close()

	resumeOffset := w.part.BytesDownloaded()
	if !w.cfg.Ranged && resumeOffset > 0 {
		w.part.SeedBytesDownloaded(0)
		resumeOffset = 0
	}
	writeAt := w.cfg.RangeStart + resumeOffset

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return nmerr.New(nmerr.KindProtocol, "building request").WithCause(err)
	}
	for _, h := range w.cfg.Headers {
		req.Header.Set(h.Name, h.Value)
	}
	if w.cfg.Referrer != "" {
		req.Header.Set("Referer", w.cfg.Referrer)
	}
	if w.cfg.Ranged {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", writeAt, w.cfg.RangeEnd))
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return nmerr.Network(err)
	}
	defer resp.Body.Close()

	if w.cfg.Ranged && resp.StatusCode == http.StatusOK {
		return nmerr.RangeUnsupported()
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nmerr.Http(resp.StatusCode, resp.Status)
	}

	w.part.SetStatus(model.StatusDownloading)

	pw := &positionalWriter{file: file, offset: writeAt}
	fw := newFlushWriter(pw, w.cfg.BufferSize, w.part.OnFlush)

	lastSample := time.Now()
	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return nmerr.Cancelled()
		default:
		}

		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if _, werr := fw.Write(chunk[:n]); werr != nil {
				return nmerr.IO("write", werr)
			}
			if now := time.Now(); now.Sub(lastSample) >= w.cfg.SampleInterval {
				emitSample(samples, w.part)
				lastSample = now
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nmerr.Network(rerr)
		}
	}

	if err := fw.Flush(); err != nil {
		return nmerr.IO("flush", err)
	}
	emitSample(samples, w.part)
	return nil
}

// emitSample publishes a non-blocking sample; a full channel means the
// sample is dropped, since progress reporting is advisory.
func emitSample(samples chan<- model.Snapshot, part *model.Part) {
	if samples == nil {
		return
	}
	select {
	case samples <- part.Snapshot():
	default:
	}
}

// positionalWriter writes sequentially-growing chunks at increasing
// absolute file offsets, so one file handle can be safely used by exactly
// one worker while other workers write their own disjoint ranges
// concurrently with no cross-part locking.
type positionalWriter struct {
	file   *os.File
	offset int64
}

func (w *positionalWriter) Write(p []byte) (int, error) {
	n, err := w.file.WriteAt(p, w.offset)
	w.offset += int64(n)
	return n, err
}

// flushWriter is a small buffered writer: it accumulates bytes and,
// on each flush boundary (buffer full, or an explicit Flush), invokes
// onFlush with the number of bytes just flushed and the elapsed time since
// the previous flush.
type flushWriter struct {
	w         io.Writer
	buf       []byte
	onFlush   func(bytesWritten int64, elapsed time.Duration)
	lastFlush time.Time
}

func newFlushWriter(w io.Writer, size int, onFlush func(int64, time.Duration)) *flushWriter {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &flushWriter{w: w, buf: make([]byte, 0, size), onFlush: onFlush, lastFlush: time.Now()}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := copy(f.buf[len(f.buf):cap(f.buf)], p)
		f.buf = f.buf[:len(f.buf)+n]
		p = p[n:]
		total += n
		if len(f.buf) == cap(f.buf) {
			if err := f.Flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (f *flushWriter) Flush() error {
	if len(f.buf) == 0 {
		return nil
	}
	n, err := f.w.Write(f.buf)
	elapsed := time.Since(f.lastFlush)
	f.lastFlush = time.Now()
	if f.onFlush != nil {
		f.onFlush(int64(n), elapsed)
	}
	f.buf = f.buf[:0]
	return err
}
