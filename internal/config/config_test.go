package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "URL_TEMPLATE", "LAYER_NAMES", "RESOLUTION", "USE_WORKERS", "FETCH_TIMEOUT", "CACHE"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != 8080 || cfg.Resolution != 5 || cfg.UseWorkers || cfg.FetchTimeout != 10*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.CacheType != "memory" || cfg.MaxTasks != 50 || cfg.MaxTasksPerSrc != 6 || cfg.MaxZoom != 24 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.LayerNames != nil {
		t.Errorf("LayerNames = %v", cfg.LayerNames)
	}
	if !cfg.IsUploadPublic() {
		t.Error("upload should be public without a token")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("URL_TEMPLATE", "https://tiles.test/{z}/{x}/{y}.pbf")
	t.Setenv("LAYER_NAMES", "water, roads,,buildings")
	t.Setenv("RESOLUTION", "2.5")
	t.Setenv("USE_WORKERS", "true")
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("MAX_NATIVE_ZOOM", "14")
	t.Setenv("UPLOAD_TOKEN", "secret")
	t.Setenv("PORT", "not-a-number")

	cfg := Load()
	if want := []string{"water", "roads", "buildings"}; !reflect.DeepEqual(cfg.LayerNames, want) {
		t.Errorf("LayerNames = %v, want %v", cfg.LayerNames, want)
	}
	if cfg.Resolution != 2.5 || !cfg.UseWorkers || cfg.FetchTimeout != 3*time.Second || cfg.MaxNativeZoom != 14 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Port != 8080 {
		t.Errorf("invalid PORT should fall back, got %d", cfg.Port)
	}
	if cfg.IsUploadPublic() {
		t.Error("upload should require the token")
	}
}

func TestParseList(t *testing.T) {
	for in, want := range map[string][]string{
		"roads, buildings,,  water ": {"roads", "buildings", "water"},
		"a b\tc":                     {"a", "b", "c"},
		" , ":                        nil,
	} {
		if got := ParseList(in); !reflect.DeepEqual(got, want) {
			t.Errorf("ParseList(%q) = %v, want %v", in, got, want)
		}
	}
}
