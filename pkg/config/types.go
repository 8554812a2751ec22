package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a configuration source format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config file type: %s", path)
	}
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Files are loaded in order; later files overwrite earlier ones.
	// Relative paths are resolved against Dir.
	Files []string `validate:"required_without=Dir,dive,required"`

	// OptionalFiles may be missing. Entries not already in Files are
	// loaded after them.
	OptionalFiles []string `validate:"dive,required"`

	// Dir is the configuration directory. When Files is empty the default
	// base.yml and server.<Env>.yaml pair under Dir is used.
	Dir string

	// Env selects the environment overlay, "dev" when empty.
	Env string `validate:"omitempty,alphanum"`
}

// ValidationError describes a single load or schema failure.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors collects every failure of one load or validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "no validation errors"
	case 1:
		return v[0].Error()
	}
	msgs := make([]string, len(v))
	for i := range v {
		msgs[i] = v[i].Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(v), strings.Join(msgs, "; "))
}
