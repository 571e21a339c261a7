package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string

	URLTemplate    string
	LayerNames     []string
	MinZoom        int
	MaxZoom        int
	MaxNativeZoom  int
	Resolution     float64
	FetchTimeout   time.Duration
	PointHitRadius float64
	LineHitWidth   float64
	UseWorkers     bool
	WorkerCount    int
	MaxTasks       int
	MaxTasksPerSrc int
	StyleDir       string
	StyleLayer     string
	TileFormat     string
	Credit         string

	WarmupLevels     int
	WarmupWorkers    int
	CacheType        string
	CacheMemoryTiles int
	CacheFileDir     string
	VipsMaxCacheMB   int
	VipsConcurrency  int
	UploadToken      string
	MaxUploadSize    int64
	AllowedOrigin    string
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		URLTemplate:    getEnv("URL_TEMPLATE", ""),
		LayerNames:     ParseList(getEnv("LAYER_NAMES", "")),
		MinZoom:        getEnvInt("MIN_ZOOM", 0),
		MaxZoom:        getEnvInt("MAX_ZOOM", 24),
		MaxNativeZoom:  getEnvInt("MAX_NATIVE_ZOOM", 0),
		Resolution:     getEnvFloat("RESOLUTION", 5),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		PointHitRadius: getEnvFloat("POINT_HIT_RADIUS", 0),
		LineHitWidth:   getEnvFloat("LINE_HIT_WIDTH", 0),
		UseWorkers:     getEnvBool("USE_WORKERS", false),
		WorkerCount:    getEnvInt("WORKER_COUNT", (runtime.NumCPU()+1)/2),
		MaxTasks:       getEnvInt("MAX_TASKS", 50),
		MaxTasksPerSrc: getEnvInt("MAX_TASKS_PER_PROVIDER", 6),
		StyleDir:       getEnv("STYLE_DIR", ""),
		StyleLayer:     getEnv("STYLE_LAYER", ""),
		TileFormat:     getEnv("TILE_FORMAT", "png"),
		Credit:         getEnv("CREDIT", ""),

		WarmupLevels:     getEnvInt("WARMUP_LEVELS", 0),
		WarmupWorkers:    getEnvInt("WARMUP_WORKERS", 1),
		CacheType:        getEnv("CACHE", "memory"),
		CacheMemoryTiles: getEnvInt("CACHE_MEMORY_TILES", 2000),
		CacheFileDir:     getEnv("CACHE_FILE_DIR", filepath.Join(os.TempDir(), "mvtview-cache")),
		VipsMaxCacheMB:   getEnvInt("VIPS_MAX_CACHE_MB", 64),
		VipsConcurrency:  getEnvInt("VIPS_CONCURRENCY", 1),
		UploadToken:      getEnv("UPLOAD_TOKEN", ""),
		MaxUploadSize:    getEnvInt64("MAX_UPLOAD_SIZE", 1<<20), // 1MB of YAML
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", ""),
	}

	return cfg
}

// ParseList splits a comma or whitespace separated list, dropping empty
// entries.
func ParseList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}
