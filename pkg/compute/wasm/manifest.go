package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/ctxresolver/pkg/engine"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var manifestValidator = validator.New()

// Manifest describes a WASM module of compute functions:
//
//	name: geo
//	version: 1.0.0
//	module: geo.wasm
//	checksum: 9f86d081...   # sha256 of the module, optional
//	timeout: 2s
//	memory_limit_pages: 64
//	functions:
//	  region: STARTUP
//	  tenant: REQUEST
//
// Exports not listed under functions are registered with STARTUP scope.
type Manifest struct {
	Name             string            `yaml:"name" validate:"required"`
	Version          string            `yaml:"version"`
	Module           string            `yaml:"module" validate:"required"`
	Checksum         string            `yaml:"checksum" validate:"omitempty,len=64,hexadecimal"`
	Timeout          time.Duration     `yaml:"timeout" validate:"gte=0"`
	MemoryLimitPages uint32            `yaml:"memory_limit_pages" validate:"lte=65536"`
	Functions        map[string]string `yaml:"functions"`

	// Path is the file the manifest was read from.
	Path string `yaml:"-"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := manifestValidator.Struct(&m); err != nil {
		return nil, engine.NewValidationError("invalid manifest", err)
	}
	if _, err := m.Scopes(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Scopes parses the functions section.
func (m *Manifest) Scopes() (map[string]engine.Scope, error) {
	scopes := make(map[string]engine.Scope, len(m.Functions))
	for name, s := range m.Functions {
		scope, err := engine.ParseScope(s)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", name, err)
		}
		scopes[name] = scope
	}
	return scopes, nil
}

// ModulePath resolves Module relative to the manifest's directory.
func (m *Manifest) ModulePath() string {
	if filepath.IsAbs(m.Module) || m.Path == "" {
		return m.Module
	}
	return filepath.Join(filepath.Dir(m.Path), m.Module)
}

// VerifyChecksum compares bin with the manifest checksum. An empty
// checksum accepts any module.
func (m *Manifest) VerifyChecksum(bin []byte) error {
	if m.Checksum == "" {
		return nil
	}

	hash := sha256.Sum256(bin)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Checksum {
		return engine.NewValidationError(
			fmt.Sprintf("WASM module checksum mismatch: expected %s, got %s", m.Checksum, computed), nil)
	}
	return nil
}

// Plugin is a loaded manifest and its compiled module.
type Plugin struct {
	Manifest *Manifest
	Module   *Module
}

// Open loads the manifest at path, verifies and compiles its module.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Plugin, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}

	bin, err := os.ReadFile(m.ModulePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}
	if err := m.VerifyChecksum(bin); err != nil {
		return nil, err
	}

	mod, err := NewModule(ctx, m.Name, bin, Config{
		Timeout:          m.Timeout,
		MemoryLimitPages: m.MemoryLimitPages,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	return &Plugin{Manifest: m, Module: mod}, nil
}

// Register registers the module's functions with the manifest's scopes.
func (p *Plugin) Register(r engine.Registry) error {
	scopes, err := p.Manifest.Scopes()
	if err != nil {
		return err
	}
	return p.Module.Register(r, scopes)
}

// Close releases the module.
func (p *Plugin) Close(ctx context.Context) error {
	return p.Module.Close(ctx)
}
