package rpc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Client is a thin synchronous wrapper over one connection to a Server,
// used by the CLI front-end; it is safe for concurrent use.
type Client struct {
	conn net.Conn

	mu     sync.Mutex
	nextID uint64
}

// Dial connects to a Server listening at network/address (e.g. "unix",
// "/run/netmanthan.sock" or "tcp", "127.0.0.1:7890").
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) nextRequestID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// call sends req and blocks for exactly one matching response. It serializes
// access to the connection: since Server replies in the order requests
// arrive on a single connection, concurrent callers must not interleave.
func (c *Client) call(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	if err := WriteFrame(c.conn, payload); err != nil {
		return Response{}, err
	}

	frame, err := ReadFrame(c.conn)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return Response{}, err
	}
	if resp.Kind == KindError && resp.Error != nil {
		return resp, fmt.Errorf("%s: %s", resp.Error.ErrKind, resp.Error.Message)
	}
	return resp, nil
}

// HeartBeat pings the daemon and blocks until it replies.
func (c *Client) HeartBeat() error {
	_, err := c.call(Request{RequestID: c.nextRequestID(), Kind: KindHeartBeat})
	return err
}

// AddDownload submits a new download and returns its current state,
// fetched with GetDownload using the id the daemon assigned.
func (c *Client) AddDownload(req AddDownloadRequest) (DownloadPayload, error) {
	resp, err := c.call(Request{RequestID: c.nextRequestID(), Kind: KindAddDownload, AddDownload: &req})
	if err != nil {
		return DownloadPayload{}, err
	}
	if resp.DownloadCreated == nil {
		return DownloadPayload{}, fmt.Errorf("rpc: malformed add_download response")
	}
	return c.GetDownload(*resp.DownloadCreated)
}

// GetDownload fetches one download's current state.
func (c *Client) GetDownload(id uuid.UUID) (DownloadPayload, error) {
	resp, err := c.call(Request{
		RequestID:   c.nextRequestID(),
		Kind:        KindGetDownload,
		GetDownload: &GetDownloadRequest{ID: id},
	})
	if err != nil {
		return DownloadPayload{}, err
	}
	if resp.Download == nil {
		return DownloadPayload{}, fmt.Errorf("rpc: malformed get_download response")
	}
	return *resp.Download, nil
}

// GetDownloads fetches every download the daemon knows about.
func (c *Client) GetDownloads() ([]DownloadPayload, error) {
	resp, err := c.call(Request{RequestID: c.nextRequestID(), Kind: KindGetDownloads})
	if err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

// PauseDownloads pauses the named downloads.
func (c *Client) PauseDownloads(ids []uuid.UUID) ([]DownloadPayload, error) {
	resp, err := c.call(Request{
		RequestID:      c.nextRequestID(),
		Kind:           KindPauseDownloads,
		PauseDownloads: &IDsRequest{IDs: ids},
	})
	if err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

// ResumeDownloads resumes the named downloads.
func (c *Client) ResumeDownloads(ids []uuid.UUID) ([]DownloadPayload, error) {
	resp, err := c.call(Request{
		RequestID:       c.nextRequestID(),
		Kind:            KindResumeDownloads,
		ResumeDownloads: &IDsRequest{IDs: ids},
	})
	if err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

// RemoveDownloads cancels the named downloads, optionally deleting their
// partial output files.
func (c *Client) RemoveDownloads(ids []uuid.UUID, deleteFiles bool) ([]DownloadPayload, error) {
	resp, err := c.call(Request{
		RequestID:       c.nextRequestID(),
		Kind:            KindRemoveDownloads,
		RemoveDownloads: &RemoveDownloadsRequest{IDs: ids, DeleteFiles: deleteFiles},
	})
	if err != nil {
		return nil, err
	}
	return resp.Downloads, nil
}

// GetConfig fetches the daemon's current configuration.
func (c *Client) GetConfig() (ConfigPayload, error) {
	resp, err := c.call(Request{RequestID: c.nextRequestID(), Kind: KindGetConfig})
	if err != nil {
		return ConfigPayload{}, err
	}
	if resp.Config == nil {
		return ConfigPayload{}, fmt.Errorf("rpc: malformed get_config response")
	}
	return *resp.Config, nil
}

// SetConfig replaces the daemon's configuration.
func (c *Client) SetConfig(cfg ConfigPayload) (ConfigPayload, error) {
	resp, err := c.call(Request{RequestID: c.nextRequestID(), Kind: KindSetConfig, SetConfig: &cfg})
	if err != nil {
		return ConfigPayload{}, err
	}
	if resp.Config == nil {
		return ConfigPayload{}, fmt.Errorf("rpc: malformed set_config response")
	}
	return *resp.Config, nil
}
