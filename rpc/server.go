package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netmanthan/internal/logging"
	"netmanthan/internal/model"
	"netmanthan/internal/nmerr"
	"netmanthan/manager"
)

// Server accepts connections on a listener (typically a unix socket or a
// loopback TCP port) and serves the Manager over the length-prefixed frame
// protocol, one goroutine per connection.
type Server struct {
	mgr *manager.Manager

	mu       sync.Mutex
	watchers map[net.Conn]context.CancelFunc
}

// NewServer builds a Server dispatching to mgr.
func NewServer(mgr *manager.Manager) *Server {
	return &Server{mgr: mgr, watchers: make(map[net.Conn]context.CancelFunc)}
}

// Serve accepts connections from ln until ctx is cancelled or ln.Accept
// fails. Each connection is handled in its own goroutine and closed on
// return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Get().Debug("rpc connection closed", zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.writeError(conn, 0, nmerr.Protocol("malformed request payload"))
			continue
		}

		if req.Kind == KindWatchDownloads {
			s.startWatch(connCtx, conn, req)
			continue
		}

		s.mu.Lock()
		if stop, ok := s.watchers[conn]; ok {
			stop()
			delete(s.watchers, conn)
		}
		s.mu.Unlock()

		resp := s.dispatch(connCtx, req)
		payload, err := json.Marshal(resp)
		if err != nil {
			logging.Get().Warn("marshalling rpc response", zap.Error(err))
			continue
		}
		if err := WriteFrame(conn, payload); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind {
	case KindHeartBeat:
		return Response{RequestID: req.RequestID, Kind: KindHeartBeat}

	case KindAddDownload:
		if req.AddDownload == nil {
			return errResponse(req.RequestID, nmerr.Protocol("add_download requires a payload"))
		}
		headers := make([]model.Header, len(req.AddDownload.Headers))
		for i, h := range req.AddDownload.Headers {
			headers[i] = model.Header{Name: h.Name, Value: h.Value}
		}
		id, err := s.mgr.AddDownload(manager.AddRequest{
			URL:      req.AddDownload.URL,
			FileDir:  req.AddDownload.FileDir,
			Filename: req.AddDownload.Filename,
			Referrer: req.AddDownload.Referrer,
			Headers:  headers,
		})
		if err != nil {
			return errResponse(req.RequestID, err)
		}
		return Response{RequestID: req.RequestID, Kind: KindDownloadCreated, DownloadCreated: &id}

	case KindGetDownload:
		if req.GetDownload == nil {
			return errResponse(req.RequestID, nmerr.Protocol("get_download requires a payload"))
		}
		snap, err := s.mgr.GetDownload(req.GetDownload.ID)
		if err != nil {
			return errResponse(req.RequestID, err)
		}
		p := toPayload(snap)
		return Response{RequestID: req.RequestID, Kind: KindDownload, Download: &p}

	case KindGetDownloads:
		snaps := s.mgr.ListDownloads(manager.ListFilter{})
		return Response{RequestID: req.RequestID, Kind: KindDownloads, Downloads: toPayloads(snaps)}

	case KindPauseDownloads:
		if req.PauseDownloads == nil {
			return errResponse(req.RequestID, nmerr.Protocol("pause_downloads requires a payload"))
		}
		if err := s.mgr.PauseDownloads(req.PauseDownloads.IDs); err != nil {
			return errResponse(req.RequestID, err)
		}
		return Response{RequestID: req.RequestID, Kind: KindDownloads, Downloads: toPayloads(s.mgr.ListDownloads(manager.ListFilter{}))}

	case KindResumeDownloads:
		if req.ResumeDownloads == nil {
			return errResponse(req.RequestID, nmerr.Protocol("resume_downloads requires a payload"))
		}
		if err := s.mgr.ResumeDownloads(req.ResumeDownloads.IDs); err != nil {
			return errResponse(req.RequestID, err)
		}
		return Response{RequestID: req.RequestID, Kind: KindDownloads, Downloads: toPayloads(s.mgr.ListDownloads(manager.ListFilter{}))}

	case KindRemoveDownloads:
		if req.RemoveDownloads == nil {
			return errResponse(req.RequestID, nmerr.Protocol("remove_downloads requires a payload"))
		}
		if err := s.mgr.CancelDownloads(req.RemoveDownloads.IDs, req.RemoveDownloads.DeleteFiles); err != nil {
			return errResponse(req.RequestID, err)
		}
		return Response{RequestID: req.RequestID, Kind: KindDownloads, Downloads: toPayloads(s.mgr.ListDownloads(manager.ListFilter{}))}

	case KindUpdateDownload:
		// Changing a live download's url/output path is not supported by the
		// Manager today; report it as a protocol error rather than silently
		// ignoring the request.
		return errResponse(req.RequestID, nmerr.New(nmerr.KindProtocol, "update_download is not supported"))

	case KindGetConfig:
		cfg := s.mgr.GetConfig()
		p := configToPayload(cfg)
		return Response{RequestID: req.RequestID, Kind: KindConfig, Config: &p}

	case KindSetConfig:
		if req.SetConfig == nil {
			return errResponse(req.RequestID, nmerr.Protocol("set_config requires a payload"))
		}
		if err := s.mgr.SetConfig(configFromPayload(*req.SetConfig)); err != nil {
			return errResponse(req.RequestID, err)
		}
		cfg := configToPayload(s.mgr.GetConfig())
		return Response{RequestID: req.RequestID, Kind: KindConfig, Config: &cfg}

	default:
		return errResponse(req.RequestID, nmerr.Protocol("unknown request kind"))
	}
}

// startWatch spawns a goroutine that pushes Downloads snapshots on conn at
// req.WatchDownloads.IntervalMs cadence until the watch is superseded by
// another request on the same connection or the connection closes.
func (s *Server) startWatch(ctx context.Context, conn net.Conn, req Request) {
	s.mu.Lock()
	if cancel, ok := s.watchers[conn]; ok {
		cancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchers[conn] = cancel
	s.mu.Unlock()

	interval := time.Duration(req.WatchDownloads.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ids := req.WatchDownloads.IDs

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				snaps := filterByIDs(s.mgr.ListDownloads(manager.ListFilter{}), ids)
				payload, err := json.Marshal(Response{
					RequestID: req.RequestID,
					Kind:      KindDownloads,
					Downloads: toPayloads(snaps),
				})
				if err != nil {
					continue
				}
				if err := WriteFrame(conn, payload); err != nil {
					return
				}
			}
		}
	}()
}

func filterByIDs(snaps []manager.Snapshot, ids []uuid.UUID) []manager.Snapshot {
	if len(ids) == 0 {
		return snaps
	}
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]manager.Snapshot, 0, len(ids))
	for _, s := range snaps {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func (s *Server) writeError(conn net.Conn, requestID uint64, err error) {
	payload, marshalErr := json.Marshal(errResponse(requestID, err))
	if marshalErr != nil {
		return
	}
	_ = WriteFrame(conn, payload)
}

func errResponse(requestID uint64, err error) Response {
	kind := "io"
	if nerr, ok := err.(*nmerr.Error); ok {
		kind = nerr.Kind.String()
	}
	return Response{
		RequestID: requestID,
		Kind:      KindError,
		Error:     &ErrorPayload{ErrKind: kind, Message: err.Error()},
	}
}

func toPayload(snap manager.Snapshot) DownloadPayload {
	return DownloadPayload{
		ID:              snap.ID,
		URL:             snap.URL,
		Filename:        snap.Filename,
		Path:            snap.Path,
		Status:          snap.Status.String(),
		BytesDownloaded: snap.BytesDownloaded,
		TotalBytes:      snap.TotalBytes,
		Speed:           snap.Speed,
		DateAdded:       snap.DateAdded,
		DateFinished:    snap.DateFinished,
		ActiveTimeSec:   int64(snap.ActiveTime.Seconds()),
	}
}

func toPayloads(snaps []manager.Snapshot) []DownloadPayload {
	out := make([]DownloadPayload, len(snaps))
	for i, s := range snaps {
		out[i] = toPayload(s)
	}
	return out
}

func configToPayload(cfg manager.Config) ConfigPayload {
	return ConfigPayload{
		AutoResume:           cfg.AutoResume,
		ConnectionsPerServer: cfg.ConnectionsPerServer,
		UpdateIntervalMs:     uint32(cfg.UpdateInterval.Milliseconds()),
		BufferSizeKB:         uint32(cfg.BufferSizeBytes / 1024),
		RetryCount:           cfg.RetryCount,
		DownloadDir:          cfg.DownloadDir,
	}
}

func configFromPayload(p ConfigPayload) manager.Config {
	return manager.Config{
		AutoResume:           p.AutoResume,
		ConnectionsPerServer: p.ConnectionsPerServer,
		UpdateInterval:       time.Duration(p.UpdateIntervalMs) * time.Millisecond,
		BufferSizeBytes:      int(p.BufferSizeKB) * 1024,
		RetryCount:           p.RetryCount,
		DownloadDir:          p.DownloadDir,
	}
}
