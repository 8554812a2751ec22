package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/ctxresolver/pkg/resolver"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultEnv is the environment overlay used when none is configured.
const DefaultEnv = "dev"

var optionsValidator = validator.New()

// DefaultFiles returns the base file and environment overlay under dir.
func DefaultFiles(dir, env string) []string {
	if env == "" {
		env = DefaultEnv
	}
	env = strings.ToLower(env)
	return []string{
		filepath.Join(dir, "base.yml"),
		filepath.Join(dir, fmt.Sprintf("server.%s.yaml", env)),
	}
}

// Loader reads YAML, JSON and CUE sources into a single raw tree.
type Loader struct {
	files    []string
	optional map[string]bool
	logger   zerolog.Logger
}

// NewLoader validates opts and resolves the file list.
func NewLoader(opts LoaderOptions, logger zerolog.Logger) (*Loader, error) {
	if err := optionsValidator.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid loader options: %w", err)
	}

	l := &Loader{
		optional: make(map[string]bool),
		logger:   logger.With().Str("component", "config-loader").Logger(),
	}

	resolve := func(f string) string {
		if opts.Dir != "" && !filepath.IsAbs(f) {
			f = filepath.Join(opts.Dir, f)
		}
		return filepath.Clean(f)
	}

	var files, optional []string
	for _, f := range opts.Files {
		files = append(files, resolve(f))
	}
	for _, f := range opts.OptionalFiles {
		optional = append(optional, resolve(f))
	}
	if len(files) == 0 {
		defaults := DefaultFiles(opts.Dir, opts.Env)
		files = defaults
		optional = append(optional, defaults[1])
	}

	seen := make(map[string]bool)
	for _, f := range append(files, optional...) {
		if !seen[f] {
			seen[f] = true
			l.files = append(l.files, f)
		}
	}
	for _, f := range optional {
		l.optional[f] = true
	}

	return l, nil
}

// Files returns the resolved source list in load order.
func (l *Loader) Files() []string {
	return append([]string(nil), l.files...)
}

// Load reads every source and deep-merges them in order. Mappings merge
// key by key; lists and scalars from later files replace earlier ones.
func (l *Loader) Load(ctx context.Context) (map[string]interface{}, error) {
	tree := map[string]interface{}{}
	loaded := 0

	for _, f := range l.files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := LoadFile(f)
		if err != nil {
			if l.optional[f] && errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug().Str("file", f).Msg("Optional config file not found")
				continue
			}
			return nil, err
		}

		tree = resolver.ApplyOverwrites(tree, data)
		loaded++

		l.logger.Debug().Str("file", f).Int("keys", len(data)).Msg("Config file loaded")
	}

	l.logger.Info().
		Int("files", loaded).
		Int("keys", len(tree)).
		Msg("Configuration loaded")

	return tree, nil
}

// LoadFile reads a single source. The top level must be a mapping; an empty
// file yields an empty tree.
func LoadFile(path string) (map[string]interface{}, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw interface{}
	switch format {
	case FormatCUE:
		raw, err = decodeCUE(path, content)
	default:
		raw, err = decodeYAML(path, content)
	}
	if err != nil {
		return nil, err
	}

	switch v := normalize(raw).(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	default:
		return nil, ValidationError{File: path, Message: fmt.Sprintf("top level must be a mapping, got %T", v)}
	}
}

// decodeYAML decodes YAML and JSON sources.
func decodeYAML(path string, content []byte) (interface{}, error) {
	var out interface{}
	if err := yaml.Unmarshal(content, &out); err != nil {
		return nil, ValidationError{File: path, Message: err.Error()}
	}
	return out, nil
}

func decodeCUE(path string, content []byte) (interface{}, error) {
	val := cuecontext.New().CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var out interface{}
	if err := val.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return out, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// normalize converts decoded values to the tree shape the resolver walks:
// string-keyed maps, []interface{} and int for integral numbers.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = normalize(child)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = normalize(child)
		}
		return out
	case []interface{}:
		for i, child := range t {
			t[i] = normalize(child)
		}
		return t
	case int64:
		if t >= math.MinInt && t <= math.MaxInt {
			return int(t)
		}
		return t
	case uint64:
		if t <= math.MaxInt {
			return int(t)
		}
		return t
	default:
		return v
	}
}
