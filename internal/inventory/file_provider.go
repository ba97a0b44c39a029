// Package inventory reads installed-application snapshots from files.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
)

// Snapshot is an inventory as uploaded by a device or written to disk
type Snapshot struct {
	Apps []models.InventoryItem `json:"apps" yaml:"apps"`

	// ProtectionLevels optionally carries the platform's protection level
	// for each permission identifier.
	ProtectionLevels map[string]int `json:"protection_levels,omitempty" yaml:"protection_levels"`
}

// LevelSource returns the snapshot's protection levels as a classifier
// source, or nil when none were reported
func (s *Snapshot) LevelSource() services.ProtectionLevelSource {
	if len(s.ProtectionLevels) == 0 {
		return nil
	}
	return services.StaticProtectionLevels(s.ProtectionLevels)
}

// Validate rejects items that cannot be keyed
func (s *Snapshot) Validate() error {
	for i, app := range s.Apps {
		if strings.TrimSpace(app.PackageName) == "" {
			return fmt.Errorf("app %d: package_name is required", i)
		}
	}
	return nil
}

// Format is the encoding of an inventory file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from the file extension, defaulting to YAML
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Decode parses a snapshot. Both the {apps: [...]} object and a bare list of
// apps are accepted.
func Decode(data []byte, format Format) (*Snapshot, error) {
	var snap Snapshot
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &snap, nil
	}

	switch format {
	case FormatJSON:
		if trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &snap.Apps); err != nil {
				return nil, fmt.Errorf("failed to parse inventory JSON: %w", err)
			}
		} else if err := json.Unmarshal(trimmed, &snap); err != nil {
			return nil, fmt.Errorf("failed to parse inventory JSON: %w", err)
		}
	default:
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Content[0].Decode(&snap.Apps); err != nil {
				return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
			}
		} else if err := node.Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to parse inventory YAML: %w", err)
		}
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FileProvider is an InventoryProvider backed by a YAML or JSON file
type FileProvider struct {
	path   string
	format Format
}

var _ services.InventoryProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for path; the format follows the extension
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, format: FormatFromPath(path)}
}

// Load reads and parses the whole snapshot
func (p *FileProvider) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", p.path, err)
	}
	return Decode(data, p.format)
}

// Inventory implements services.InventoryProvider
func (p *FileProvider) Inventory(ctx context.Context) ([]models.InventoryItem, error) {
	snap, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Apps, nil
}
