// Command cleanup runs one retention pass over rejected submissions and
// exits. It is meant for cron jobs when the in-process scheduler is off.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"fanvault/internal/bootstrap"
	"fanvault/internal/cache"
	"fanvault/internal/config"
	"fanvault/internal/middleware"
	"fanvault/internal/repository"
	"fanvault/internal/service"
	"fanvault/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	statsOnly := flag.Bool("stats", false, "print retention stats without deleting anything")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the run after this long")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slog.SetDefault(middleware.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{SkipObjectStore: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	staging, err := storage.NewStagingStore(cfg.StagingDir, cfg.StagingURLPrefix)
	if err != nil {
		log.Printf("Failed to open staging area: %v", err)
		return 1
	}
	settings, err := service.NewRetentionSettings(service.RetentionConfig{
		RetentionDays:       cfg.RetentionDays,
		MaxRetainedRejected: cfg.MaxRetainedRejected,
	})
	if err != nil {
		log.Printf("Invalid retention config: %v", err)
		return 1
	}

	var locker service.Locker
	if rt.Redis != nil {
		locker = cache.NewRedisLock(rt.Redis, cache.RetentionLockKey)
	}
	retention := service.NewRetentionService(repository.NewSubmissionRepository(rt.DB), staging, settings, locker)

	if *statsOnly {
		stats, err := retention.GetStats(ctx)
		if err != nil {
			log.Printf("Failed to read stats: %v", err)
			return 1
		}
		printJSON(stats)
		return 0
	}

	result := retention.ManualCleanup(ctx)
	printJSON(result)
	if !result.Success {
		return 1
	}
	return 0
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
