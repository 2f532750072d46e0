// Package datapipe builds the VM scheduling dataset: it fetches the
// trace link manifest, queues the source archives on an external
// download manager, waits for them to land, and cleans the raw VM
// table into the canonical form the simulator consumes.
package datapipe

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"maro/pkg/constants"
	"maro/pkg/downloader"
	"maro/pkg/logger"
)

// Downloader is the slice of the download manager client the pipeline
// drives.
type Downloader interface {
	Add(ctx context.Context, downloadURL string, opts *downloader.AddOptions) (string, error)
	ListTasks(ctx context.Context) ([]*downloader.Task, error)
	Remove(ctx context.Context, gids []string) error
}

// Options tune the download phase.
type Options struct {
	// WorkDir is the local dataset root; each topology gets its own
	// download/ and clean/ subdirectories beneath it.
	WorkDir string
	// PollInterval is the delay between download status polls.
	PollInterval time.Duration
	// PollDeadline bounds the whole download wait. Expiry is an error.
	PollDeadline time.Duration
	// ReadingsLimit is how many partitioned cpu-readings files to
	// fetch; the manifest lists far more than a topology needs.
	ReadingsLimit int
}

func (o Options) withDefaults() Options {
	if o.WorkDir == "" {
		o.WorkDir = "data"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollDeadline <= 0 {
		o.PollDeadline = time.Hour
	}
	if o.ReadingsLimit <= 0 {
		o.ReadingsLimit = 4
	}
	return o
}

// Pipeline drives one topology's dataset build.
type Pipeline struct {
	topology   string
	meta       TopologyMeta
	downloader Downloader
	opts       Options
	httpClient *http.Client
}

// NewPipeline creates a pipeline for one topology.
func NewPipeline(topology string, meta TopologyMeta, dl Downloader, opts Options) *Pipeline {
	opts = opts.withDefaults()
	if meta.ReadingsLimit > 0 {
		opts.ReadingsLimit = meta.ReadingsLimit
	}
	return &Pipeline{
		topology:   topology,
		meta:       meta,
		downloader: dl,
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// DownloadDir is where the raw archives land.
func (p *Pipeline) DownloadDir() string {
	return filepath.Join(p.opts.WorkDir, p.topology, "download")
}

// CleanDir is where the canonical table is written.
func (p *Pipeline) CleanDir() string {
	return filepath.Join(p.opts.WorkDir, p.topology, "clean")
}

// DownloadResult summarizes the download phase.
type DownloadResult struct {
	// Enqueued lists the queued file names in manifest order.
	Enqueued []string
	// ReadingsRemaining is what is left of the readings budget.
	ReadingsRemaining int
}

// Run executes the full build: download then clean.
func (p *Pipeline) Run(ctx context.Context) error {
	if _, err := p.Download(ctx); err != nil {
		return err
	}
	_, err := p.Clean(ctx)
	return err
}

// Download fetches the link manifest, queues every in-scope source
// file on the download manager and waits for all of them to complete.
func (p *Pipeline) Download(ctx context.Context) (*DownloadResult, error) {
	urls, err := p.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	result := &DownloadResult{ReadingsRemaining: p.opts.ReadingsLimit}
	expected := map[string]string{} // file name -> task gid

	for _, sourceURL := range urls {
		name := fileNameOf(sourceURL)
		if name == "" || !strings.HasPrefix(name, constants.TracePrefix) {
			continue
		}

		switch {
		case strings.HasPrefix(name, constants.TraceTablePrefix):
			// The single VM table archive.
		case strings.HasPrefix(name, constants.TraceReadingsPrefix):
			if result.ReadingsRemaining <= 0 {
				continue
			}
			result.ReadingsRemaining--
		default:
			logger.Debugf("manifest entry %s not routed, skipping", name)
			continue
		}

		gid, err := p.downloader.Add(ctx, sourceURL, &downloader.AddOptions{
			Dir: p.DownloadDir(),
			Out: name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to queue download for %s: %w", name, err)
		}
		logger.Infof("queued download %s (task %s)", name, gid)
		expected[name] = gid
		result.Enqueued = append(result.Enqueued, name)
	}

	if len(expected) == 0 {
		logger.Warnf("manifest for topology %s contained no downloadable sources", p.topology)
		return result, nil
	}

	if err := p.awaitDownloads(ctx, expected); err != nil {
		return nil, err
	}
	return result, nil
}

// awaitDownloads polls the download manager until every expected file
// reports complete, then purges the finished task records. The wait is
// bounded by PollDeadline.
func (p *Pipeline) awaitDownloads(ctx context.Context, expected map[string]string) error {
	deadline := time.Now().Add(p.opts.PollDeadline)

	for {
		tasks, err := p.downloader.ListTasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to poll download manager: %w", err)
		}

		byName := make(map[string]*downloader.Task, len(tasks))
		for _, task := range tasks {
			byName[task.Name] = task
		}

		pending := 0
		for name := range expected {
			task, ok := byName[name]
			switch {
			case !ok:
				// Queued but not yet visible.
				pending++
			case task.Failed():
				return fmt.Errorf("download task %s failed", name)
			case !task.Complete():
				pending++
			}
		}

		if pending == 0 {
			gids := make([]string, 0, len(expected))
			for _, gid := range expected {
				gids = append(gids, gid)
			}
			if err := p.downloader.Remove(ctx, gids); err != nil {
				logger.Warnf("failed to purge finished download tasks: %v", err)
			}
			logger.Infof("all %d source files downloaded for topology %s", len(expected), p.topology)
			return nil
		}

		logger.Infof("waiting for %d/%d downloads", pending, len(expected))
		if time.Now().After(deadline) {
			return fmt.Errorf("downloads still pending after %s budget (%d of %d left)", p.opts.PollDeadline, pending, len(expected))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.opts.PollInterval):
		}
	}
}

// Clean locates the downloaded table archive and builds the canonical
// table. A missing archive is not an error; the phase warns and
// returns so a partial pipeline can be re-run after downloads finish.
func (p *Pipeline) Clean(ctx context.Context) (int, error) {
	archive, err := p.findTableArchive()
	if err != nil {
		return 0, err
	}
	if archive == "" {
		logger.Warnf("no raw table archive under %s, skipping clean", p.DownloadDir())
		return 0, nil
	}

	if err := os.MkdirAll(p.CleanDir(), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create clean directory: %w", err)
	}
	output := filepath.Join(p.CleanDir(), "vmtable.csv")
	return CleanVMTable(ctx, archive, output)
}

func (p *Pipeline) findTableArchive() (string, error) {
	entries, err := os.ReadDir(p.DownloadDir())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to scan download directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, constants.TraceTablePrefix) && strings.HasSuffix(name, ".gz") {
			return filepath.Join(p.DownloadDir(), name), nil
		}
	}
	return "", nil
}

// fetchManifest retrieves the link manifest, one source URL per line.
func (p *Pipeline) fetchManifest(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", p.meta.RemoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %s: %w", p.meta.RemoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("manifest fetch returned status %d", resp.StatusCode)
	}

	var urls []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	logger.Infof("manifest for topology %s lists %d entries", p.topology, len(urls))
	return urls, nil
}

// fileNameOf extracts the base file name from a manifest URL.
func fileNameOf(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Path == "" {
		return ""
	}
	return path.Base(u.Path)
}
