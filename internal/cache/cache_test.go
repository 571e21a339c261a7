package cache

import (
	"bytes"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func key(x int) TileKey {
	return TileKey{Source: "a1b2c3", Style: "parks", Scale: 1, Z: 3, X: x, Y: 2, Format: "png"}
}

func TestMemoryCacheEvictsLeastRecent(t *testing.T) {
	c, err := NewMemoryCache(2)
	if err != nil {
		t.Fatal(err)
	}
	c.Set(key(0), []byte("zero"))
	c.Set(key(1), []byte("one"))
	if _, ok := c.Get(key(0)); !ok {
		t.Fatal("key 0 missing")
	}
	c.Set(key(2), []byte("two"))

	if c.Has(key(1)) {
		t.Error("key 1 should have been evicted")
	}
	if !c.Has(key(0)) || !c.Has(key(2)) {
		t.Error("recent keys evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestMemoryCacheRejectsZeroSize(t *testing.T) {
	if _, err := NewMemoryCache(0); err == nil {
		t.Error("expected an error for a zero sized cache")
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Has(key(5)) {
		t.Fatal("empty cache reports a hit")
	}
	c.Set(key(5), []byte("tile"))

	got, ok := c.Get(key(5))
	if !ok || !bytes.Equal(got, []byte("tile")) {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	if !c.Has(key(5)) {
		t.Error("Has() = false after Set")
	}
	want := filepath.Join(dir, "a1b2c3", "parks_1", "3", "5_2.png")
	if p := c.buildFilePath(key(5)); p != want {
		t.Errorf("path = %s, want %s", p, want)
	}

	k := key(5)
	k.Style = ""
	if p := c.buildFilePath(k); filepath.Base(filepath.Dir(filepath.Dir(p))) != "default_1" {
		t.Errorf("unstyled path = %s", p)
	}

	c.Clear()
	if c.Has(key(5)) {
		t.Error("Has() = true after Clear")
	}
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	c.Set(key(1), []byte("x"))
	if _, ok := c.Get(key(1)); ok || c.Has(key(1)) {
		t.Error("noop cache stored a tile")
	}
}

func TestNewCache(t *testing.T) {
	for _, typ := range []string{"memory", "file", "disabled"} {
		if _, err := NewCache(typ, t.TempDir(), 10, zap.NewNop()); err != nil {
			t.Errorf("NewCache(%q) error = %v", typ, err)
		}
	}
	if _, err := NewCache("redis", "", 10, zap.NewNop()); err == nil {
		t.Error("expected an error for an unknown cache type")
	}
}
