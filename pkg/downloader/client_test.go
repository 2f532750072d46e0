package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maro/pkg/config"
	"maro/pkg/constants"
)

func newTestClient(serverURL, token string) *Client {
	return NewClient(&config.DownloaderConfig{RPCURL: serverURL, Token: token})
}

func decodeRPC(t *testing.T, r *http.Request) rpcRequest {
	t.Helper()
	var req rpcRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func writeResult(t *testing.T, w http.ResponseWriter, id string, result interface{}) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	resp := rpcResponse{ID: id, Result: data}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestClientAddSendsTokenAndOptions(t *testing.T) {
	var captured rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeRPC(t, r)
		writeResult(t, w, captured.ID, "gid-123")
	}))
	defer server.Close()

	client := newTestClient(server.URL, "secret")
	gid, err := client.Add(context.Background(), "https://example.com/trace/vmtable.csv.gz", &AddOptions{
		Dir: "/data/azure",
		Out: "vmtable.csv.gz",
	})
	require.NoError(t, err)
	assert.Equal(t, "gid-123", gid)

	assert.Equal(t, "aria2.addUri", captured.Method)
	require.Len(t, captured.Params, 3)
	assert.Equal(t, "token:secret", captured.Params[0])
	assert.Equal(t, []interface{}{"https://example.com/trace/vmtable.csv.gz"}, captured.Params[1])
	assert.Equal(t, map[string]interface{}{"dir": "/data/azure", "out": "vmtable.csv.gz"}, captured.Params[2])
}

func TestClientAddWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		require.Len(t, req.Params, 1, "no token prefix expected")
		writeResult(t, w, req.ID, "gid-9")
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	gid, err := client.Add(context.Background(), "https://example.com/f.gz", nil)
	require.NoError(t, err)
	assert.Equal(t, "gid-9", gid)
}

func TestClientListTasksMergesQueues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		switch req.Method {
		case "aria2.tellActive":
			writeResult(t, w, req.ID, []map[string]interface{}{{
				"gid":             "g1",
				"status":          "active",
				"totalLength":     "1000",
				"completedLength": "250",
				"files": []map[string]interface{}{{
					"path": "/data/azure/vm_cpu_readings-file-1-of-195.csv.gz",
				}},
			}})
		case "aria2.tellWaiting":
			writeResult(t, w, req.ID, []map[string]interface{}{})
		case "aria2.tellStopped":
			writeResult(t, w, req.ID, []map[string]interface{}{{
				"gid":             "g2",
				"status":          "complete",
				"totalLength":     "500",
				"completedLength": "500",
				"files": []map[string]interface{}{{
					"path": "",
					"uris": []map[string]interface{}{{"uri": "https://example.com/trace/vmtable.csv.gz?sig=abc"}},
				}},
			}})
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	tasks, err := client.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "vm_cpu_readings-file-1-of-195.csv.gz", tasks[0].Name)
	assert.Equal(t, constants.DownloadStatusActive, tasks[0].Status)
	assert.InDelta(t, 0.25, tasks[0].Progress(), 1e-9)
	assert.False(t, tasks[0].Complete())

	assert.Equal(t, "vmtable.csv.gz", tasks[1].Name, "name should come from the URI when the path is empty")
	assert.True(t, tasks[1].Complete())
	assert.InDelta(t, 1.0, tasks[1].Progress(), 1e-9)
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		resp := rpcResponse{ID: req.ID, Error: &rpcError{Code: 1, Message: "unauthorized"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "wrong")
	_, err := client.ListTasks(context.Background())
	assert.ErrorContains(t, err, "unauthorized")
}

func TestClientRemovePurgesEachTask(t *testing.T) {
	var removed []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeRPC(t, r)
		require.Equal(t, "aria2.removeDownloadResult", req.Method)
		require.Len(t, req.Params, 1)
		removed = append(removed, req.Params[0].(string))
		writeResult(t, w, req.ID, "OK")
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	require.NoError(t, client.Remove(context.Background(), []string{"g1", "g2"}))
	assert.Equal(t, []string{"g1", "g2"}, removed)
}

func TestTaskProgressGuardsZeroLength(t *testing.T) {
	task := &Task{TotalLength: 0, CompletedLength: 10}
	assert.Equal(t, 0.0, task.Progress())
}
