package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	kernel "github.com/ehrlich-b/microkernel"
	"github.com/ehrlich-b/microkernel/internal/logging"
)

func main() {
	var (
		totalMemStr = flag.String("memory", "256M", "Total memory available to processes (e.g. 64M, 1G)")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	totalMem, err := parseSize(*totalMemStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -memory %q: %v\n", *totalMemStr, err)
		os.Exit(1)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := kernel.DefaultConfig()
	cfg.TotalMemoryBytes = uint64(totalMem)
	cfg.Logger = logger

	logger.Info("starting kernel host", "total_memory", formatSize(totalMem))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host := kernel.New(ctx, cfg)
	defer func() {
		logger.Info("shutting down host")
		host.Shutdown()
		logger.Info("host stopped")
	}()

	logger.Info("kernel host ready", "pid", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

			filename := fmt.Sprintf("kerneld-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\nProcess ID: %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	stats := host.Stats()
	logger.Info("initial stats", "process_count", stats.ProcessCount, "memory_available", stats.MemoryAvailable)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}

// parseSize parses a size string like "64M", "1G", "512K" into bytes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	multiplier := int64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
