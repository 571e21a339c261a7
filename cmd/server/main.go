package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"mvtview/internal/cache"
	"mvtview/internal/config"
	httphandlers "mvtview/internal/http"
	"mvtview/internal/logger"
	"mvtview/internal/provider"
	"mvtview/internal/style_list"
	"mvtview/internal/tile_encoder"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Set up logging
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		// Map vips log levels to zap levels
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting mvtview server",
		zap.Int("port", cfg.Port),
		zap.String("url_template", cfg.URLTemplate),
		zap.Strings("layers", cfg.LayerNames),
		zap.Bool("use_workers", cfg.UseWorkers),
	)

	styles := style_list.New(cfg.StyleDir, log)
	if err := styles.Scan(); err != nil {
		log.Warn("Initial style scan failed", zap.Error(err))
	}
	defaultStyle := styles.Layer(cfg.StyleLayer)
	if cfg.StyleLayer != "" && defaultStyle == nil {
		log.Warn("Default style layer not found", zap.String("style", cfg.StyleLayer))
	}

	tileCache, err := cache.NewCache(cfg.CacheType, cfg.CacheFileDir, cfg.CacheMemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}

	source, err := provider.New(provider.Options{
		URLTemplate:         cfg.URLTemplate,
		LayerNames:          cfg.LayerNames,
		MinimumLevel:        cfg.MinZoom,
		MaximumLevel:        cfg.MaxZoom,
		MaximumNativeLevel:  cfg.MaxNativeZoom,
		Resolution:          cfg.Resolution,
		UseWorkers:          cfg.UseWorkers,
		WorkerCount:         cfg.WorkerCount,
		MaxTasks:            cfg.MaxTasks,
		MaxTasksPerProvider: cfg.MaxTasksPerSrc,
		StyleLayer:          defaultStyle,
		FetchTimeout:        cfg.FetchTimeout,
		PointHitRadius:      cfg.PointHitRadius,
		LineHitWidth:        cfg.LineHitWidth,
		Cache:               tileCache,
		Credit:              cfg.Credit,
	}, log)
	if err != nil {
		log.Fatal("Failed to create tile provider", zap.Error(err))
	}

	handlers := httphandlers.New(cfg, log, source, styles)

	if cfg.WarmupLevels > 0 {
		go warmupTiles(cfg, source, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := source.Dispose(ctx); err != nil {
		log.Error("Tile provider did not drain", zap.Error(err))
	}

	log.Info("Server stopped")
}

// warmupTiles renders every tile of the first WarmupLevels levels into the
// raster cache. Tiles already cached, e.g. by a file cache from an earlier
// run, are skipped.
func warmupTiles(cfg *config.Config, source *provider.Provider, log *zap.Logger) {
	format, err := tile_encoder.ParseFormat(cfg.TileFormat)
	if err != nil {
		log.Warn("Skipping warmup", zap.Error(err))
		return
	}

	first := source.MinimumLevel()
	last := min(first+cfg.WarmupLevels-1, source.MaximumLevel())
	log.Info("Starting tile warmup", zap.Int("from_level", first), zap.Int("to_level", last))

	// Stay under the provider's own admission limit
	workerLimit := max(1, min(cfg.WarmupWorkers, cfg.MaxTasksPerSrc))

	workerChan := make(chan struct{}, workerLimit)
	var wg sync.WaitGroup
	var skipped atomic.Int64
	ctx := context.Background()

	for z := first; z <= last; z++ {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				wg.Add(1)
				workerChan <- struct{}{} // Acquire worker slot

				go func(zoom, tileX, tileY int) {
					defer wg.Done()
					defer func() { <-workerChan }() // Release worker slot

					req := provider.TileRequest{X: tileX, Y: tileY, Level: zoom, Format: format}
					if source.Cached(req) {
						skipped.Add(1)
						return
					}
					_, ok, err := source.RenderTile(ctx, req)
					switch {
					case err != nil:
						log.Debug("Warmup tile failed", zap.Int("z", zoom), zap.Int("x", tileX), zap.Int("y", tileY), zap.Error(err))
					case !ok:
						log.Debug("Warmup tile rejected", zap.Int("z", zoom), zap.Int("x", tileX), zap.Int("y", tileY))
					}
				}(z, x, y)
			}
		}
	}

	wg.Wait()
	log.Info("Tile warmup completed", zap.Int64("already_cached", skipped.Load()))
}
