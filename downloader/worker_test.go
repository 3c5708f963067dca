package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"netmanthan/internal/model"
)

func TestWorker_RangedDownloadCompletes(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			t.Errorf("expected a Range header on a ranged request")
		}
		w.Header().Set("Content-Range", "bytes 250-499/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[250:500])
	}))
	defer srv.Close()

	f, err := os.CreateTemp(t.TempDir(), "part-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if err := f.Truncate(1000); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	path := f.Name()
	f.Close()

	part := &model.Part{Start: 250, End: 499}
	cfg := WorkerConfig{
		URL:            srv.URL,
		Ranged:         true,
		RangeStart:     250,
		RangeEnd:       499,
		FilePath:       path,
		BufferSize:     64,
		SampleInterval: time.Millisecond,
		RetryCount:     3,
		Client:         srv.Client(),
	}
	w := NewWorker(cfg, part)
	samples := make(chan model.Snapshot, 10)
	w.Run(context.Background(), samples)

	if got := part.Status(); got != model.StatusComplete {
		t.Fatalf("expected part status Complete, got %s", got)
	}
	if got := part.BytesDownloaded(); got != 250 {
		t.Errorf("expected 250 bytes downloaded, got %d", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data[250:500], body[250:500]) {
		t.Errorf("written bytes do not match expected range")
	}
}

func TestWorker_RangeUnsupportedFailsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("whole body, server ignored Range"))
	}))
	defer srv.Close()

	f, err := os.CreateTemp(t.TempDir(), "part-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()

	part := &model.Part{Start: 0, End: 9}
	cfg := WorkerConfig{
		URL:            srv.URL,
		Ranged:         true,
		RangeStart:     0,
		RangeEnd:       9,
		FilePath:       path,
		BufferSize:     64,
		SampleInterval: time.Millisecond,
		RetryCount:     3,
		Client:         srv.Client(),
	}
	w := NewWorker(cfg, part)
	w.Run(context.Background(), nil)

	if got := part.Status(); got != model.StatusFailed {
		t.Fatalf("expected RangeUnsupported to fail the part terminally, got %s", got)
	}
}

func TestWorker_CancellationStopsDownload(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("first chunk"))
		if flusher != nil {
			flusher.Flush()
		}
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	f, err := os.CreateTemp(t.TempDir(), "part-*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := f.Name()
	f.Close()

	part := &model.Part{TotalSize: 0}
	cfg := WorkerConfig{
		URL:            srv.URL,
		Ranged:         false,
		FilePath:       path,
		BufferSize:     4,
		SampleInterval: time.Millisecond,
		RetryCount:     3,
		Client:         srv.Client(),
	}
	w := NewWorker(cfg, part)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate after cancellation")
	}

	if got := part.Status(); got != model.StatusCancelled {
		t.Fatalf("expected Cancelled status, got %s", got)
	}
}

func TestBackoffDelay_BoundedExponential(t *testing.T) {
	if d := backoffDelay(1); d != time.Second {
		t.Errorf("attempt 1 = %v, want 1s", d)
	}
	if d := backoffDelay(2); d != 2*time.Second {
		t.Errorf("attempt 2 = %v, want 2s", d)
	}
	if d := backoffDelay(10); d != 30*time.Second {
		t.Errorf("attempt 10 = %v, want capped at 30s", d)
	}
}

func TestFlushWriter_InvokesCallbackOnBufferFull(t *testing.T) {
	var calls int
	var totalBytes int64
	buf := &bytes.Buffer{}
	fw := newFlushWriter(buf, 4, func(n int64, _ time.Duration) {
		calls++
		totalBytes += n
	})

	if _, err := fw.Write([]byte("abcdefgh")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 flushes for 8 bytes into a 4-byte buffer, got %d", calls)
	}
	if err := fw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if totalBytes != 8 {
		t.Errorf("expected 8 total flushed bytes, got %d", totalBytes)
	}
	if buf.String() != "abcdefgh" {
		t.Errorf("unexpected buffer contents: %q", buf.String())
	}
}
