// Package file serves published flows from graph documents on disk.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Rrens/flowbot/internal/domain"
	"gopkg.in/yaml.v3"
)

var extensions = []string{".json", ".yaml", ".yml"}

// GraphSource reads <dir>/<tenant>.json, .yaml or .yml on every lookup
type GraphSource struct {
	dir string
}

// NewGraphSource serves graphs from dir
func NewGraphSource(dir string) *GraphSource {
	return &GraphSource{dir: dir}
}

// ActiveGraph loads the tenant's document. The activation id is derived from
// the content so edits rebind running sessions.
func (s *GraphSource) ActiveGraph(ctx context.Context, tenantID string) (*domain.ActiveGraph, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return nil, domain.ErrNoActiveFlow
	}
	for _, ext := range extensions {
		path := filepath.Join(s.dir, tenantID+ext)
		b, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		graph, err := Decode(path, b)
		if err != nil {
			return nil, err
		}
		return &domain.ActiveGraph{ActivationID: contentID(tenantID, b), TenantID: tenantID, Graph: graph}, nil
	}
	return nil, domain.ErrNoActiveFlow
}

// Load reads one graph document
func Load(path string) (*domain.Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(path, b)
}

// Decode parses JSON, or YAML when the path has a YAML extension
func Decode(path string, b []byte) (*domain.Graph, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, domain.ErrInvalidGraph, err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, domain.ErrInvalidGraph, err)
		}
		b = converted
	}
	g, err := domain.ParseGraph(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

func contentID(tenantID string, b []byte) string {
	sum := sha256.Sum256(b)
	return "file:" + tenantID + ":" + hex.EncodeToString(sum[:6])
}
