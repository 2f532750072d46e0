// Package downloader is a JSON-RPC client for an aria2-compatible
// download manager. The dataset pipeline queues source archives here
// and polls task state until everything has landed.
package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"maro/pkg/config"
	"maro/pkg/logger"
)

// Client talks to the download manager's RPC endpoint.
type Client struct {
	rpcURL     string
	token      string
	httpClient *http.Client
}

// NewClient creates a download manager client
func NewClient(cfg *config.DownloaderConfig) *Client {
	rpcURL := cfg.RPCURL
	if rpcURL == "" {
		rpcURL = "http://localhost:6800/jsonrpc"
	}

	return &Client{
		rpcURL: rpcURL,
		token:  cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AddOptions control where a download lands.
type AddOptions struct {
	// Dir is the target directory on the download manager host.
	Dir string
	// Out overrides the output file name.
	Out string
}

// Add queues one URL and returns the task GID.
func (c *Client) Add(ctx context.Context, downloadURL string, opts *AddOptions) (string, error) {
	params := []interface{}{[]string{downloadURL}}
	if opts != nil {
		fileOpts := map[string]string{}
		if opts.Dir != "" {
			fileOpts["dir"] = opts.Dir
		}
		if opts.Out != "" {
			fileOpts["out"] = opts.Out
		}
		params = append(params, fileOpts)
	}

	result, err := c.call(ctx, "aria2.addUri", params)
	if err != nil {
		return "", err
	}

	var gid string
	if err := json.Unmarshal(result, &gid); err != nil {
		return "", fmt.Errorf("failed to parse addUri response: %w", err)
	}
	return gid, nil
}

// ListTasks returns every task the manager knows about: active, queued
// and stopped, in that order.
func (c *Client) ListTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task

	active, err := c.tell(ctx, "aria2.tellActive", nil)
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, active...)

	waiting, err := c.tell(ctx, "aria2.tellWaiting", []interface{}{0, tellPageSize})
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, waiting...)

	stopped, err := c.tell(ctx, "aria2.tellStopped", []interface{}{0, tellPageSize})
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, stopped...)

	return tasks, nil
}

// Remove purges finished task records from the manager.
func (c *Client) Remove(ctx context.Context, gids []string) error {
	for _, gid := range gids {
		if _, err := c.call(ctx, "aria2.removeDownloadResult", []interface{}{gid}); err != nil {
			return fmt.Errorf("failed to remove download task %s: %w", gid, err)
		}
	}
	return nil
}

// tellPageSize bounds the waiting/stopped queries; the pipeline never
// queues anywhere near this many files.
const tellPageSize = 1000

func (c *Client) tell(ctx context.Context, method string, params []interface{}) ([]*Task, error) {
	result, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}

	var records []statusRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}

	tasks := make([]*Task, 0, len(records))
	for _, rec := range records {
		tasks = append(tasks, rec.toTask())
	}
	return tasks, nil
}

// rpcRequest is the JSON-RPC 2.0 envelope.
type rpcRequest struct {
	Version string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

// call performs one JSON-RPC exchange, injecting the secret token when
// one is configured.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.token != "" {
		params = append([]interface{}{"token:" + c.token}, params...)
	}

	reqBody := rpcRequest{
		Version: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RPC request: %w", err)
	}
	logger.Debugf("Download manager request: %s, Body: %s", method, string(jsonData))

	req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debugf("Download manager response: Status %d, Body: %s", resp.StatusCode, string(respData))

	var rpcResp rpcResponse
	if err := json.Unmarshal(respData, &rpcResp); err != nil {
		return nil, fmt.Errorf("download manager returned malformed response (status %d): %s", resp.StatusCode, string(respData))
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("download manager error (code %d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
