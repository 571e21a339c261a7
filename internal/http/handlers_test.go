package http

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"mvtview/internal/cache"
	"mvtview/internal/config"
	"mvtview/internal/provider"
	"mvtview/internal/style_list"
	"mvtview/internal/tile_renderer"
	"mvtview/internal/vector_tile"
)

var square = orb.Ring{{0, 0}, {4096, 0}, {4096, 4096}, {0, 4096}, {0, 0}}

func parkTile(context.Context, string) (*vector_tile.Tile, error) {
	f := &vector_tile.Feature{
		ID:         9,
		Kind:       vector_tile.KindPolygon,
		Rings:      []orb.Ring{square},
		Bound:      square.Bound(),
		Properties: map[string]any{"class": "park"},
	}
	return &vector_tile.Tile{Layers: map[string]*vector_tile.Layer{
		"landuse": {Name: "landuse", Extent: 4096, Features: []*vector_tile.Feature{f}},
	}}, nil
}

type fixture struct {
	handlers *Handlers
	server   http.Handler
	dir      string
}

func newFixture(t *testing.T, cfg *config.Config, opts provider.Options) *fixture {
	t.Helper()
	if opts.ParseTile == nil {
		opts.ParseTile = parkTile
	}
	opts.URLTemplate = "https://tiles.test/{z}/{x}/{y}.pbf"
	opts.LayerNames = []string{"landuse"}
	if opts.MaximumLevel == 0 {
		opts.MaximumLevel = 6
	}
	if opts.Cache == nil {
		mem, err := cache.NewMemoryCache(64)
		if err != nil {
			t.Fatal(err)
		}
		opts.Cache = mem
	}
	p, err := provider.New(opts, zap.NewNop())
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}
	t.Cleanup(func() { p.Dispose(context.Background()) })
	<-p.ReadyC()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "parks.yaml"), []byte("id: parks\npolygon:\n  fillColor: '#ff0000'\n"), 0644); err != nil {
		t.Fatal(err)
	}
	styles := style_list.New(dir, zap.NewNop())
	if err := styles.Scan(); err != nil {
		t.Fatal(err)
	}

	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.TileFormat == "" {
		cfg.TileFormat = "png"
	}
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 1 << 20
	}
	h := New(cfg, zap.NewNop(), p, styles)
	return &fixture{handlers: h, server: h.Routes(), dir: dir}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestHandleTile(t *testing.T) {
	f := newFixture(t, nil, provider.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a png")
	}
	etag := rec.Header().Get("ETag")
	if etag == "" || rec.Header().Get("X-Request-Id") == "" {
		t.Errorf("headers = %v", rec.Header())
	}

	req := httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png", nil)
	req.Header.Set("If-None-Match", etag)
	if rec := f.do(req); rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}

	head := f.do(httptest.NewRequest(http.MethodHead, "/tiles/1/0/0.png", nil))
	if head.Code != http.StatusOK || head.Body.Len() != 0 || head.Header().Get("Content-Length") == "" {
		t.Errorf("HEAD = %d, %d bytes, headers %v", head.Code, head.Body.Len(), head.Header())
	}

	styled := f.do(httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png?style=parks", nil))
	if styled.Code != http.StatusOK || styled.Header().Get("ETag") == etag {
		t.Errorf("styled = %d etag %q", styled.Code, styled.Header().Get("ETag"))
	}
}

func TestHandleTileErrors(t *testing.T) {
	f := newFixture(t, nil, provider.Options{})

	for _, tc := range []struct {
		path string
		want int
	}{
		{"/tiles/1/0.png", http.StatusBadRequest},
		{"/tiles/a/0/0.png", http.StatusBadRequest},
		{"/tiles/1/b/0.png", http.StatusBadRequest},
		{"/tiles/1/0/c.png", http.StatusBadRequest},
		{"/tiles/1/-1/0.png", http.StatusBadRequest},
		{"/tiles/1/0/0.gif", http.StatusBadRequest},
		{"/tiles/9/0/0.png", http.StatusNotFound},
		{"/tiles/1/5/0.png", http.StatusNotFound},
		{"/tiles/1/0/0.png?style=missing", http.StatusNotFound},
	} {
		if rec := f.do(httptest.NewRequest(http.MethodGet, tc.path, nil)); rec.Code != tc.want {
			t.Errorf("GET %s = %d, want %d", tc.path, rec.Code, tc.want)
		}
	}
	if rec := f.do(httptest.NewRequest(http.MethodPost, "/tiles/1/0/0.png", nil)); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}

func TestHandleTileRejected(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	var blocked atomic.Bool
	f := newFixture(t, nil, provider.Options{
		MaxTasksPerProvider: 1,
		ParseTile: func(ctx context.Context, url string) (*vector_tile.Tile, error) {
			if blocked.CompareAndSwap(false, true) {
				close(entered)
				<-gate
			}
			return parkTile(ctx, url)
		},
	})

	done := make(chan int, 1)
	go func() {
		done <- f.do(httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png", nil)).Code
	}()
	<-entered

	rec := f.do(httptest.NewRequest(http.MethodGet, "/tiles/1/1/0.png", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "1" {
		t.Errorf("rejected status = %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	close(gate)
	if code := <-done; code != http.StatusOK {
		t.Errorf("admitted status = %d", code)
	}
}

func TestHandlePick(t *testing.T) {
	f := newFixture(t, nil, provider.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/pick?z=1&x=0&y=0&lon=-100&lat=30&style=parks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	var got []tile_renderer.FeatureInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].FeatureID != "9" || got[0].LayerID != "parks" {
		t.Fatalf("picked = %+v", got)
	}

	// The opposite hemisphere has no tile content at this tile.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/pick?z=1&x=0&y=0&lon=100&lat=30", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("miss = %d %q", rec.Code, rec.Body.String())
	}

	for _, q := range []string{"z=a&x=0&y=0&lon=0&lat=0", "z=1&x=0&y=0&lon=x&lat=0", "z=1&x=0&y=0&lon=0"} {
		if rec := f.do(httptest.NewRequest(http.MethodGet, "/pick?"+q, nil)); rec.Code != http.StatusBadRequest {
			t.Errorf("pick %s = %d, want 400", q, rec.Code)
		}
	}
	if rec := f.do(httptest.NewRequest(http.MethodGet, "/pick?z=9&x=0&y=0&lon=0&lat=0", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("out of range pick = %d", rec.Code)
	}
}

func TestHandleStyles(t *testing.T) {
	f := newFixture(t, &config.Config{UploadToken: "secret"}, provider.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/styles", nil))
	var styles []style_list.StyleInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &styles); err != nil || len(styles) != 1 || styles[0].ID != "parks" {
		t.Fatalf("styles = %+v, %v", styles, err)
	}

	upload := func(token string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "roads.yaml")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte("id: roads\npolyline:\n  strokeColor: black\n"))
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/styles", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return f.do(req)
	}

	if rec := upload("wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}
	rec = upload("secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %q", rec.Code, rec.Body.String())
	}
	if f.handlers.styles.Layer("roads") == nil {
		t.Error("uploaded style not in catalog")
	}
	if _, err := os.Stat(filepath.Join(f.dir, "roads.yaml")); err != nil {
		t.Errorf("uploaded style not stored: %v", err)
	}
}

func TestHealthzAndCORS(t *testing.T) {
	f := newFixture(t, &config.Config{AllowedOrigin: "https://map.example"}, provider.Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://map.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	rec = f.do(httptest.NewRequest(http.MethodOptions, "/tiles/1/0/0.png", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("preflight = %d", rec.Code)
	}
}

func TestExtractIP(t *testing.T) {
	h := &Handlers{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := h.extractIP(req); got != "10.0.0.1" {
		t.Errorf("extractIP() = %q", got)
	}
	req.Header.Set("X-Real-Ip", "192.168.1.2")
	if got := h.extractIP(req); got != "192.168.1.2" {
		t.Errorf("extractIP() with header = %q", got)
	}
}

func TestReuploadedStyleChangesTiles(t *testing.T) {
	f := newFixture(t, nil, provider.Options{})

	centre := func(rec *httptest.ResponseRecorder) color.NRGBA {
		t.Helper()
		img, err := png.Decode(rec.Body)
		if err != nil {
			t.Fatalf("png.Decode() error = %v", err)
		}
		return color.NRGBAModel.Convert(img.At(128, 128)).(color.NRGBA)
	}

	before := f.do(httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png?style=parks", nil))
	etag := before.Header().Get("ETag")
	if px := centre(before); px.R != 255 || px.B != 0 {
		t.Fatalf("centre before upload = %v, want red", px)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "parks.yaml")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("id: parks\npolygon:\n  fillColor: '#0000ff'\n"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/styles", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rec := f.do(req); rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/tiles/1/0/0.png?style=parks", nil)
	req.Header.Set("If-None-Match", etag)
	after := f.do(req)
	if after.Code != http.StatusOK || after.Header().Get("ETag") == etag {
		t.Fatalf("after upload = %d etag %q", after.Code, after.Header().Get("ETag"))
	}
	if px := centre(after); px.B != 255 || px.R != 0 {
		t.Errorf("centre after upload = %v, want blue", px)
	}
}
