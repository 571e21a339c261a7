package style_list

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mvtview/internal/style"
)

type StyleInfo struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Filename string       `json:"filename" yaml:"filename"`
	Layer    *style.Layer `json:"layer" yaml:"layer"`
}

// Scanner keeps the style layers found in a directory of YAML files.
type Scanner struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	styles []StyleInfo
}

func New(dir string, logger *zap.Logger) *Scanner {
	return &Scanner{
		dir:    dir,
		logger: logger,
		styles: []StyleInfo{},
	}
}

func isStyleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Scan reloads every style file. Files without an id are given a UUID and
// renamed to {id}.yaml.
func (s *Scanner) Scan() error {
	if s.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read style directory: %w", err)
	}

	styles := []StyleInfo{}
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !isStyleFile(entry.Name()) {
			continue
		}
		path := s.getFilePath(entry.Name())

		layer, err := style.LoadLayer(path)
		if err != nil {
			s.logger.Warn("Failed to load style layer, skipping", zap.String("path", path), zap.Error(err))
			continue
		}

		// No id yet: assign one and move the file under it
		if layer.ID == "" {
			layer.ID = uuid.New().String()
			if layer.Name == "" {
				layer.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
			}
			finalPath := s.getFilePath(layer.ID + ".yaml")
			if err := saveLayer(finalPath, layer); err != nil {
				s.logger.Warn("Failed to save style layer", zap.String("path", finalPath), zap.Error(err))
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to remove migrated style file", zap.String("path", path), zap.Error(err))
			}
			s.logger.Info("Migrated style to UUID", zap.String("old_path", path), zap.String("new_path", finalPath))
			path = finalPath
		}

		if other, dup := seen[layer.ID]; dup {
			s.logger.Warn("Duplicate style id, skipping",
				zap.String("id", layer.ID),
				zap.String("path", path),
				zap.String("first_path", other))
			continue
		}
		seen[layer.ID] = path

		styles = append(styles, StyleInfo{
			ID:       layer.ID,
			Name:     layer.Name,
			Filename: filepath.Base(path),
			Layer:    layer,
		})
	}
	sort.Slice(styles, func(i, j int) bool { return styles[i].ID < styles[j].ID })

	s.mu.Lock()
	s.styles = styles
	s.mu.Unlock()
	return nil
}

func (s *Scanner) GetStyles() []StyleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StyleInfo(nil), s.styles...)
}

func (s *Scanner) GetStyleByID(id string) *StyleInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.styles {
		if st.ID == id {
			return &st
		}
	}
	return nil
}

// Layer returns the style layer with the given id, or nil.
func (s *Scanner) Layer(id string) *style.Layer {
	if info := s.GetStyleByID(id); info != nil {
		return info.Layer
	}
	return nil
}

// ProcessUploadedStyle validates an uploaded style, stores it as {id}.yaml
// and rescans. The upload's own id is kept when present.
func (s *Scanner) ProcessUploadedStyle(data []byte, originalFilename string) (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("no style directory configured")
	}
	layer, err := style.ParseLayer(data)
	if err != nil {
		return "", err
	}
	if layer.ID == "" {
		layer.ID = uuid.New().String()
	}
	if strings.ContainsAny(layer.ID, `/\`) || layer.ID == "." || layer.ID == ".." {
		return "", fmt.Errorf("invalid style id: %q", layer.ID)
	}
	if layer.Name == "" {
		layer.Name = strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))
	}

	path := s.getFilePath(layer.ID + ".yaml")
	if err := saveLayer(path, layer); err != nil {
		return "", err
	}
	s.logger.Info("Processed uploaded style",
		zap.String("id", layer.ID),
		zap.String("original_filename", originalFilename),
		zap.String("final_path", path))

	if err := s.Scan(); err != nil {
		return "", err
	}
	return layer.ID, nil
}

func (s *Scanner) getFilePath(filename string) string {
	return filepath.Join(s.dir, filename)
}

func saveLayer(path string, layer *style.Layer) error {
	data, err := yaml.Marshal(layer)
	if err != nil {
		return fmt.Errorf("failed to marshal style layer: %w", err)
	}

	// Write atomically
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write style layer: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write style layer: %w", err)
	}
	return nil
}
