package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/maltedev/lmpc-scraper/internal/app"
	"github.com/maltedev/lmpc-scraper/internal/config"
	"github.com/maltedev/lmpc-scraper/internal/jobs"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/queue"
)

// resultLine is one line of the JSON lines output.
type resultLine struct {
	URL    string                   `json:"url"`
	Error  string                   `json:"error,omitempty"`
	Record *models.ProductRecord    `json:"record,omitempty"`
	Report *models.ValidationReport `json:"report,omitempty"`
}

func main() {
	var (
		urlFile = flag.String("file", "", "file with one product URL per line ('-' for stdin)")
		outFile = flag.String("out", "", "write JSON lines here instead of stdout")
		workers = flag.Int("workers", 0, "concurrent pipeline workers (default QUEUE_WORKERS)")
	)
	flag.Parse()

	logger := app.NewLogger(os.Stderr, config.LoggingConfig{})
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = app.NewLogger(os.Stderr, cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Queue.Workers = *workers
	}

	urls, err := collectURLs(*urlFile, flag.Args())
	if err != nil {
		logger.Error("failed to read urls", "error", err)
		os.Exit(1)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lmpc-batch [-file urls.txt] [url ...]")
		os.Exit(2)
	}

	out := io.Writer(os.Stdout)
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			logger.Error("failed to create output file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(_ *jobs.Job, item jobs.Item, record *models.ProductRecord, report *models.ValidationReport) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(resultLine{URL: item.URL, Error: item.Error, Record: record, Report: report}); err != nil {
			logger.Error("failed to write result", "url", item.URL, "error", err)
		}
	}

	taskQueue := queue.NewInMemoryQueue(0)
	manager := jobs.NewManager(taskQueue, a.Pipeline, write, logger)

	job, err := manager.CreateJob(urls, 0)
	if err != nil {
		logger.Error("failed to create job", "error", err)
		os.Exit(1)
	}
	taskQueue.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx, cfg.Queue.Workers)
	}()

	done, err := manager.Wait(ctx, job.ID)
	wg.Wait()
	if err != nil {
		logger.Warn("batch interrupted", "error", err)
		return
	}

	stats := a.Pipeline.Stats()
	logger.Info("batch finished",
		"urls", done.Total,
		"failed", done.Failed,
		"processed", stats.Processed,
		"deduplicated", stats.Deduplicated,
		"compliant", stats.Compliant,
		"violations", stats.Violations,
	)
}

// collectURLs reads URLs from path (if set) followed by args. Blank lines
// and lines starting with '#' are skipped.
func collectURLs(path string, args []string) ([]string, error) {
	var urls []string
	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		lines, err := readURLs(r)
		if err != nil {
			return nil, err
		}
		urls = append(urls, lines...)
	}
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			urls = append(urls, a)
		}
	}
	return urls, nil
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
