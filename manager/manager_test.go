package manager

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"netmanthan/downloader"
	"netmanthan/internal/model"
)

type fakeAdapter struct {
	mu        sync.Mutex
	downloads map[uuid.UUID]*model.Download
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{downloads: make(map[uuid.UUID]*model.Download)}
}

func (f *fakeAdapter) Insert(d *model.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[d.ID] = d
	return nil
}
func (f *fakeAdapter) Update(d *model.Download) error { return f.Insert(d) }
func (f *fakeAdapter) UpdatePartBytes(uuid.UUID, int64) error { return nil }
func (f *fakeAdapter) Delete(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.downloads, id)
	return nil
}
func (f *fakeAdapter) ListAll() ([]*model.Download, error) { return nil, nil }
func (f *fakeAdapter) ListIncomplete() ([]*model.Download, error) { return nil, nil }
func (f *fakeAdapter) ListPaused() ([]*model.Download, error) { return nil, nil }
func (f *fakeAdapter) MarkComplete(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.downloads[id]; ok {
		d.MarkFinished(time.Now())
	}
	return nil
}
func (f *fakeAdapter) Close() error { return nil }

func testManager(t *testing.T) (*Manager, func()) {
	t.Helper()
	store := newFakeAdapter()
	transport, err := downloader.NewTransport(downloader.DefaultTransportConfig())
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	cfg := Config{
		ConnectionsPerServer: 4,
		UpdateInterval:       10 * time.Millisecond,
		BufferSizeBytes:      64,
		RetryCount:           2,
		DownloadDir:          t.TempDir(),
	}
	m := New(store, transport, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	return m, cancel
}

func TestManager_AddAndGetDownload(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "500")
		w.Header().Set("Accept-Ranges", "bytes")
		if rh := r.Header.Get("Range"); rh != "" {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	m, cancel := testManager(t)
	defer cancel()

	id, err := m.AddDownload(AddRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := m.GetDownload(id)
		if err != nil {
			t.Fatalf("GetDownload: %v", err)
		}
		if snap.Status == model.StatusComplete {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("download did not complete in time")
}

func TestManager_ListDownloadsFiltersByStatus(t *testing.T) {
	m, cancel := testManager(t)
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("a"), 10))
	}))
	defer srv.Close()

	if _, err := m.AddDownload(AddRequest{URL: srv.URL}); err != nil {
		t.Fatalf("AddDownload: %v", err)
	}

	all := m.ListDownloads(ListFilter{})
	if len(all) != 1 {
		t.Fatalf("expected 1 download, got %d", len(all))
	}

	none := m.ListDownloads(ListFilter{Statuses: []model.Status{model.StatusFailed}})
	if len(none) != 0 {
		t.Fatalf("expected 0 failed downloads, got %d", len(none))
	}
}

func TestManager_GetSetConfig(t *testing.T) {
	m, cancel := testManager(t)
	defer cancel()

	cfg := m.GetConfig()
	cfg.RetryCount = 9
	if err := m.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	got := m.GetConfig()
	if got.RetryCount != 9 {
		t.Fatalf("expected RetryCount 9, got %d", got.RetryCount)
	}
}

// TestManager_PauseThenResumeRoundTrip pauses a download mid-transfer,
// checks it settles as Paused (not Cancelled) with download.Paused() set,
// then resumes it and verifies the finished file is byte-identical to what
// the origin served, and that Paused() is cleared again on completion.
func TestManager_PauseThenResumeRoundTrip(t *testing.T) {
	const totalSize = 20000
	body := make([]byte, totalSize)
	for i := range body {
		body[i] = byte('a' + i%26)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", totalSize))
		w.Header().Set("Accept-Ranges", "bytes")
		if rangeHeader == "" {
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err != nil {
			t.Fatalf("bad range header %q: %v", rangeHeader, err)
		}
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)
		const chunk = 200
		for pos := start; pos <= end; pos += chunk {
			last := pos + chunk - 1
			if last > end {
				last = end
			}
			if _, err := w.Write(body[pos : last+1]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()

	m, cancel := testManager(t)
	defer cancel()

	id, err := m.AddDownload(AddRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := m.PauseDownloads([]uuid.UUID{id}); err != nil {
		t.Fatalf("PauseDownloads: %v", err)
	}

	var snap Snapshot
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = m.GetDownload(id)
		if err != nil {
			t.Fatalf("GetDownload: %v", err)
		}
		if snap.Status == model.StatusPaused {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.Status != model.StatusPaused {
		t.Fatalf("expected Paused, got %s", snap.Status)
	}

	m.mu.RLock()
	e := m.entries[id]
	m.mu.RUnlock()
	if !e.download.Paused() {
		t.Fatal("expected download.Paused() to be true after PauseDownloads")
	}

	if err := m.ResumeDownloads([]uuid.UUID{id}); err != nil {
		t.Fatalf("ResumeDownloads: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err = m.GetDownload(id)
		if err != nil {
			t.Fatalf("GetDownload: %v", err)
		}
		if snap.Status == model.StatusComplete {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap.Status != model.StatusComplete {
		t.Fatalf("expected Complete after resume, got %s", snap.Status)
	}
	if e.download.Paused() {
		t.Fatal("expected download.Paused() to be cleared once the resumed download completed")
	}

	got, err := os.ReadFile(snap.Path)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatal("resumed download bytes do not match the original source bytes")
	}
}

func TestManager_PauseAndCancelUnknownIDsAreNoops(t *testing.T) {
	m, cancel := testManager(t)
	defer cancel()

	if err := m.PauseDownloads([]uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("PauseDownloads: %v", err)
	}
	if err := m.CancelDownloads([]uuid.UUID{uuid.New()}, false); err != nil {
		t.Fatalf("CancelDownloads: %v", err)
	}
}
