package datapipe

import (
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maro/pkg/constants"
	"maro/pkg/downloader"
)

type addCall struct {
	url string
	dir string
	out string
}

// fakeDownloader scripts the download manager: listFn returns the task
// view for the nth poll.
type fakeDownloader struct {
	adds    []addCall
	onAdd   func(call addCall)
	listFn  func(poll int) []*downloader.Task
	polls   int
	removed [][]string
}

func (f *fakeDownloader) Add(_ context.Context, downloadURL string, opts *downloader.AddOptions) (string, error) {
	call := addCall{url: downloadURL}
	if opts != nil {
		call.dir = opts.Dir
		call.out = opts.Out
	}
	f.adds = append(f.adds, call)
	if f.onAdd != nil {
		f.onAdd(call)
	}
	return fmt.Sprintf("gid-%d", len(f.adds)), nil
}

func (f *fakeDownloader) ListTasks(_ context.Context) ([]*downloader.Task, error) {
	f.polls++
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(f.polls), nil
}

func (f *fakeDownloader) Remove(_ context.Context, gids []string) error {
	f.removed = append(f.removed, gids)
	return nil
}

func taskNamed(name string, status constants.DownloadStatus) *downloader.Task {
	return &downloader.Task{GID: "gid-" + name, Name: name, Status: status}
}

func completeTasks(names ...string) []*downloader.Task {
	tasks := make([]*downloader.Task, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, taskNamed(name, constants.DownloadStatusComplete))
	}
	return tasks
}

func manifestServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(strings.Join(lines, "\n")))
		require.NoError(t, err)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPipeline(t *testing.T, server *httptest.Server, dl Downloader, opts Options) *Pipeline {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return NewPipeline("azure.2019.test", TopologyMeta{RemoteURL: server.URL}, dl, opts)
}

func TestPipelineDownloadRoutesManifest(t *testing.T) {
	// The last two manifest entries are out of scope: one is not
	// vm-prefixed, the other matches no routing rule.
	server := manifestServer(t,
		"https://example.com/trace/vmtable.csv.gz",
		"https://example.com/trace/vm_cpu_readings-file-1-of-195.csv.gz",
		"https://example.com/trace/vm_cpu_readings-file-2-of-195.csv.gz",
		"https://example.com/trace/vm_cpu_readings-file-3-of-195.csv.gz",
		"https://example.com/trace/schema.md",
		"https://example.com/trace/vm_notes.txt",
	)

	allNames := []string{
		"vmtable.csv.gz",
		"vm_cpu_readings-file-1-of-195.csv.gz",
		"vm_cpu_readings-file-2-of-195.csv.gz",
		"vm_cpu_readings-file-3-of-195.csv.gz",
	}
	dl := &fakeDownloader{
		listFn: func(poll int) []*downloader.Task {
			if poll == 1 {
				// First poll: half the files are still in flight.
				tasks := completeTasks(allNames[:2]...)
				tasks = append(tasks, taskNamed(allNames[2], constants.DownloadStatusActive))
				return tasks
			}
			return completeTasks(allNames...)
		},
	}

	pipeline := newTestPipeline(t, server, dl, Options{ReadingsLimit: 4})
	result, err := pipeline.Download(context.Background())
	require.NoError(t, err)

	assert.Equal(t, allNames, result.Enqueued)
	assert.Equal(t, 1, result.ReadingsRemaining, "readings budget should go 4 -> 1")
	assert.Equal(t, 2, dl.polls, "poll loop must wait until every file is complete")

	require.Len(t, dl.adds, 4)
	assert.Equal(t, pipeline.DownloadDir(), dl.adds[0].dir)
	assert.Equal(t, "vmtable.csv.gz", dl.adds[0].out)

	require.Len(t, dl.removed, 1)
	assert.Len(t, dl.removed[0], 4, "all finished task records should be purged")
}

func TestPipelineDownloadHonorsReadingsBudget(t *testing.T) {
	server := manifestServer(t,
		"https://example.com/trace/vm_cpu_readings-file-1-of-195.csv.gz",
		"https://example.com/trace/vm_cpu_readings-file-2-of-195.csv.gz",
		"https://example.com/trace/vm_cpu_readings-file-3-of-195.csv.gz",
	)

	dl := &fakeDownloader{
		listFn: func(int) []*downloader.Task {
			return completeTasks(
				"vm_cpu_readings-file-1-of-195.csv.gz",
				"vm_cpu_readings-file-2-of-195.csv.gz",
			)
		},
	}

	// Topology metadata overrides the option budget.
	pipeline := NewPipeline("azure.2019.test",
		TopologyMeta{RemoteURL: server.URL, ReadingsLimit: 2},
		dl,
		Options{WorkDir: t.TempDir(), PollInterval: time.Millisecond, ReadingsLimit: 4},
	)

	result, err := pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Enqueued, 2)
	assert.Equal(t, 0, result.ReadingsRemaining)
}

func TestPipelineDownloadFailedTask(t *testing.T) {
	server := manifestServer(t, "https://example.com/trace/vmtable.csv.gz")
	dl := &fakeDownloader{
		listFn: func(int) []*downloader.Task {
			return []*downloader.Task{taskNamed("vmtable.csv.gz", constants.DownloadStatusError)}
		},
	}

	pipeline := newTestPipeline(t, server, dl, Options{})
	_, err := pipeline.Download(context.Background())
	assert.ErrorContains(t, err, "download task vmtable.csv.gz failed")
}

func TestPipelineDownloadDeadline(t *testing.T) {
	server := manifestServer(t, "https://example.com/trace/vmtable.csv.gz")
	dl := &fakeDownloader{
		listFn: func(int) []*downloader.Task {
			return []*downloader.Task{taskNamed("vmtable.csv.gz", constants.DownloadStatusActive)}
		},
	}

	pipeline := newTestPipeline(t, server, dl, Options{
		PollInterval: time.Millisecond,
		PollDeadline: 20 * time.Millisecond,
	})
	_, err := pipeline.Download(context.Background())
	assert.ErrorContains(t, err, "still pending")
}

func TestPipelineDownloadNothingInScope(t *testing.T) {
	server := manifestServer(t,
		"https://example.com/trace/schema.md",
		"https://example.com/trace/readme.txt",
	)
	dl := &fakeDownloader{}

	pipeline := newTestPipeline(t, server, dl, Options{})
	result, err := pipeline.Download(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Enqueued)
	assert.Zero(t, dl.polls, "no poll loop without queued files")
}

func TestPipelineCleanWithoutArchive(t *testing.T) {
	dl := &fakeDownloader{}
	pipeline := NewPipeline("azure.2019.test", TopologyMeta{RemoteURL: "http://unused"}, dl, Options{
		WorkDir: t.TempDir(),
	})

	kept, err := pipeline.Clean(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, kept)
}

func TestPipelineRunEndToEnd(t *testing.T) {
	server := manifestServer(t, "https://example.com/trace/vmtable.csv.gz")

	// The fake manager "downloads" by writing the archive where the
	// real one would.
	dl := &fakeDownloader{
		listFn: func(int) []*downloader.Task {
			return completeTasks("vmtable.csv.gz")
		},
	}
	dl.onAdd = func(call addCall) {
		require.NoError(t, os.MkdirAll(call.dir, 0o755))
		file, err := os.Create(filepath.Join(call.dir, call.out))
		require.NoError(t, err)
		gz := gzip.NewWriter(file)
		rows := rawRow("vm-1", "300", "900", "2", "8") + "\n" +
			rawRow("vm-2", "0", "600", "4", "16") + "\n"
		_, err = gz.Write([]byte(rows))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, file.Close())
	}

	pipeline := newTestPipeline(t, server, dl, Options{})
	require.NoError(t, pipeline.Run(context.Background()))

	lines := readLines(t, filepath.Join(pipeline.CleanDir(), "vmtable.csv"))
	require.Len(t, lines, 3)
	assert.Equal(t, "vm-2,0,2,4,16,2", lines[1])
	assert.Equal(t, "vm-1,1,3,2,8,2", lines[2])
}
