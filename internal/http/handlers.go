package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mvtview/internal/config"
	"mvtview/internal/provider"
	"mvtview/internal/style"
	"mvtview/internal/style_list"
	"mvtview/internal/tile"
	"mvtview/internal/tile_encoder"
	"mvtview/internal/tile_renderer"
)

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	provider *provider.Provider
	styles   *style_list.Scanner
}

func New(config *config.Config, logger *zap.Logger, provider *provider.Provider, styles *style_list.Scanner) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger,
		provider: provider,
		styles:   styles,
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/tiles/", h.HandleTile)
	mux.HandleFunc("/pick", h.HandlePick)
	mux.HandleFunc("/styles", h.HandleStyles)
	return h.RequestLoggingMiddleware(h.CORSMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Tile-Bytes")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.provider.Ready() {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// styleLayer resolves the optional ?style= parameter. A nil layer with ok
// set means the provider default.
func (h *Handlers) styleLayer(w http.ResponseWriter, r *http.Request) (*style.Layer, bool) {
	id := r.URL.Query().Get("style")
	if id == "" {
		return nil, true
	}
	layer := h.styles.Layer(id)
	if layer == nil {
		http.Error(w, "Unknown style", http.StatusNotFound)
		return nil, false
	}
	return layer, true
}

// HandleTile serves /tiles/{z}/{x}/{y}.{png|jpg|jpeg|webp}.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/tiles/"), "/"), "/")
	if len(parts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	var z, x, y int
	if _, err := fmt.Sscanf(parts[0], "%d", &z); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &x); err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	tileFile := parts[2]
	ext := filepath.Ext(tileFile)
	if _, err := fmt.Sscanf(strings.TrimSuffix(tileFile, ext), "%d", &y); err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	if z < 0 || x < 0 || y < 0 {
		http.Error(w, "Coordinates must be non-negative", http.StatusBadRequest)
		return
	}

	if ext == "" {
		ext = h.config.TileFormat
	}
	format, err := tile_encoder.ParseFormat(ext)
	if err != nil {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	layer, ok := h.styleLayer(w, r)
	if !ok {
		return
	}

	result, admitted, err := h.provider.RenderTile(r.Context(), provider.TileRequest{
		X:      x,
		Y:      y,
		Level:  z,
		Format: format,
		Style:  layer,
	})
	switch {
	case errors.Is(err, tile.ErrOutOfRange):
		http.Error(w, "Tile out of range", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("Failed to render tile", zap.Int("z", z), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	case !admitted:
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many tile requests", http.StatusServiceUnavailable)
		return
	}

	etag := `"` + result.ETag + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(result.Size))
	w.Header().Set("X-Tile-Bytes", strconv.Itoa(result.Size))
	w.Header().Set("Content-Type", format.ContentType())

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(result.Data)
}

// HandlePick serves /pick?z=&x=&y=&lon=&lat=[&style=].
func (h *Handlers) HandlePick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var ints [3]int
	for i, name := range []string{"z", "x", "y"} {
		v, err := strconv.Atoi(q.Get(name))
		if err != nil {
			http.Error(w, "Invalid "+name, http.StatusBadRequest)
			return
		}
		ints[i] = v
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		http.Error(w, "Invalid lon", http.StatusBadRequest)
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		http.Error(w, "Invalid lat", http.StatusBadRequest)
		return
	}

	layer, ok := h.styleLayer(w, r)
	if !ok {
		return
	}

	features, err := h.provider.PickFeatures(r.Context(), ints[1], ints[2], ints[0], lon, lat, layer)
	if errors.Is(err, tile.ErrOutOfRange) {
		http.Error(w, "Tile out of range", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Failed to pick features", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if features == nil {
		features = []tile_renderer.FeatureInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(features)
}

// HandleStyles lists the style catalog on GET and accepts a YAML style
// upload on POST.
func (h *Handlers) HandleStyles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.styles.GetStyles())
	case http.MethodPost:
		h.handleUpload(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !h.config.IsUploadPublic() {
		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != h.config.UploadToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)

	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".yaml" && ext != ".yml" {
		http.Error(w, "Invalid file extension", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	id, err := h.styles.ProcessUploadedStyle(data, header.Filename)
	if err != nil {
		h.logger.Warn("Failed to process uploaded style", zap.String("filename", header.Filename), zap.Error(err))
		http.Error(w, "Failed to process style: "+err.Error(), http.StatusBadRequest)
		return
	}

	info := h.styles.GetStyleByID(id)
	if info == nil {
		h.logger.Warn("Uploaded style not found after scan", zap.String("id", id))
		http.Error(w, "Failed to retrieve uploaded style", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"id":    id,
		"name":  info.Name,
		"saved": true,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
