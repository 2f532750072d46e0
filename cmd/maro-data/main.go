// maro-data builds the VM trace datasets behind the scenario
// topologies: raw trace archives are fetched through the download
// manager, then distilled into the canonical tables the simulator
// reads.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"maro/pkg/config"
	"maro/pkg/datapipe"
	"maro/pkg/downloader"
	"maro/pkg/logger"
)

func main() {
	var (
		topology = flag.String("topology", "", "topology to build, e.g. azure.2019.10k")
		phase    = flag.String("phase", "all", "pipeline phase: download, clean or all")
		list     = flag.Bool("list", false, "list known topologies and exit")
	)
	flag.Parse()

	if err := config.Init(); err != nil {
		logger.FatalCtx(nil, "Configuration initialization failed: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(); err != nil {
		logger.FatalCtx(nil, "Logging initialization failed: %v", err)
	}
	defer logger.Sync()

	registry, err := datapipe.LoadRegistry(cfg.DataPipe.SourceMeta)
	if err != nil {
		logger.FatalCtx(nil, "Failed to load the topology registry: %v", err)
	}

	if *list {
		fmt.Println(strings.Join(registry.Names(), "\n"))
		return
	}

	if *topology == "" {
		fmt.Fprintln(os.Stderr, "missing -topology (use -list to see what is available)")
		flag.Usage()
		os.Exit(2)
	}

	meta, err := registry.Get(*topology)
	if err != nil {
		logger.FatalCtx(nil, "Unknown topology: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	pipeline := datapipe.NewPipeline(*topology, meta, downloader.NewClient(&cfg.DataPipe.Downloader), datapipe.Options{
		WorkDir:       cfg.DataPipe.WorkDir,
		PollInterval:  time.Duration(cfg.DataPipe.PollInterval) * time.Second,
		PollDeadline:  time.Duration(cfg.DataPipe.PollDeadline) * time.Second,
		ReadingsLimit: cfg.DataPipe.ReadingsLimit,
	})

	start := time.Now()
	switch *phase {
	case "download":
		result, err := pipeline.Download(ctx)
		if err != nil {
			logger.FatalCtx(ctx, "Download phase failed: %v", err)
		}
		logger.InfoCtx(ctx, "Downloaded %d files into %s", len(result.Enqueued), pipeline.DownloadDir())
	case "clean":
		rows, err := pipeline.Clean(ctx)
		if err != nil {
			logger.FatalCtx(ctx, "Clean phase failed: %v", err)
		}
		logger.InfoCtx(ctx, "Built the canonical table under %s (%d rows)", pipeline.CleanDir(), rows)
	case "all":
		if err := pipeline.Run(ctx); err != nil {
			logger.FatalCtx(ctx, "Pipeline failed: %v", err)
		}
		logger.InfoCtx(ctx, "Topology %s is ready under %s", *topology, pipeline.CleanDir())
	default:
		fmt.Fprintf(os.Stderr, "unknown phase %q (want download, clean or all)\n", *phase)
		os.Exit(2)
	}

	logger.InfoCtx(ctx, "Finished in %s", time.Since(start).Round(time.Millisecond))
}
