package policy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/ctxresolver/pkg/watch"
	"github.com/rs/zerolog"
)

// regoExt is the only policy file extension.
const regoExt = ".rego"

// Loader reads .rego policy files.
//
// The first block of '#' comments in a file is its header. Lines of the
// form "key: value" set policy fields; every other line is description:
//
//	# Keeps admin settings out of templates.
//	# severity: warning
//	# tags: paths, admin
//	# enabled: false
//
// A policy is named after its path relative to the loaded directory, with
// separators replaced by dots ("nested/b.rego" becomes "nested.b"). A file
// given directly is named after its base name.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedFile

	watcher *watch.Watcher
}

// cachedFile is reused while the file's size and modification time match.
type cachedFile struct {
	modTime time.Time
	size    int64
	policy  Policy
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedFile),
	}
}

func isRegoFile(path string) bool {
	return strings.HasSuffix(path, regoExt)
}

// LoadFromPaths loads every policy under paths, in a stable order. Two
// files that would share a policy name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	sources := make(map[string]string)

	for _, path := range paths {
		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			p, err := l.loadFile(f.path, f.name)
			if err != nil {
				return nil, err
			}
			if prev, dup := sources[p.Name]; dup {
				return nil, fmt.Errorf("policy %q is defined by both %s and %s", p.Name, prev, f.path)
			}
			sources[p.Name] = f.path
			policies = append(policies, p)
		}
	}

	l.logger.Debug().
		Int("policies", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded")

	return policies, nil
}

type policyFile struct {
	path string
	name string
}

// policyFiles lists the .rego files for a file or directory path.
func policyFiles(path string) ([]policyFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if !isRegoFile(path) {
			return nil, fmt.Errorf("not a %s file", regoExt)
		}
		return []policyFile{{path: path, name: strings.TrimSuffix(filepath.Base(path), regoExt)}}, nil
	}

	var files []policyFile
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRegoFile(p) {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		name := strings.ReplaceAll(strings.TrimSuffix(rel, regoExt), string(filepath.Separator), ".")
		files = append(files, policyFile{path: p, name: name})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// LoadFile loads a single .rego file, named after its base name.
func (l *Loader) LoadFile(path string) (Policy, error) {
	if !isRegoFile(path) {
		return Policy{}, fmt.Errorf("policy path %s: not a %s file", path, regoExt)
	}
	return l.loadFile(path, strings.TrimSuffix(filepath.Base(path), regoExt))
}

func (l *Loader) loadFile(path, name string) (Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) && cached.policy.Name == name {
		return clonePolicy(cached.policy), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	h, err := parseHeader(string(data))
	if err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}

	p := Policy{
		Name:        name,
		Description: h.description,
		Rego:        string(data),
		Severity:    h.severity,
		Enabled:     h.enabled,
		Tags:        h.tags,
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   info.ModTime(),
		UpdatedAt:   info.ModTime(),
	}

	l.mu.Lock()
	l.cache[path] = cachedFile{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Str("policy", name).
		Str("severity", string(p.Severity)).
		Msg("Policy file read")

	return clonePolicy(p), nil
}

func clonePolicy(p Policy) Policy {
	p.Tags = append([]string(nil), p.Tags...)
	meta := make(map[string]interface{}, len(p.Metadata))
	for k, v := range p.Metadata {
		meta[k] = v
	}
	p.Metadata = meta
	return p
}

type header struct {
	description string
	severity    Severity
	enabled     bool
	tags        []string
}

// parseHeader reads the first comment block of a rego source. Lines before
// it (package, import, blank) are skipped; the block ends at the first line
// that is not a comment.
func parseHeader(src string) (header, error) {
	h := header{severity: SeverityError, enabled: true, tags: []string{}}

	var desc []string
	inBlock := false
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "#") {
			if inBlock {
				break
			}
			continue
		}
		inBlock = true

		text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if text == "" {
			continue
		}

		key, value, ok := strings.Cut(text, ":")
		if !ok {
			desc = append(desc, text)
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "severity":
			s := Severity(strings.ToLower(value))
			switch s {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				h.severity = s
			default:
				return header{}, fmt.Errorf("unknown severity %q", value)
			}
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return header{}, fmt.Errorf("invalid enabled value %q", value)
			}
			h.enabled = b
		case "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
		default:
			desc = append(desc, text)
		}
	}
	if err := sc.Err(); err != nil {
		return header{}, err
	}

	h.description = strings.Join(desc, " ")
	return h, nil
}

// Watch reloads the policies under paths whenever a .rego file changes and
// hands them to reloadFn, typically Engine.ReloadPolicies. A failed load or
// reload is logged and the previous policies stay in effect.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func(context.Context, []Policy) error) error {
	w := watch.New(func(ctx context.Context) error {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err != nil {
			return fmt.Errorf("failed to reload policies: %w", err)
		}
		if err := reloadFn(ctx, policies); err != nil {
			return fmt.Errorf("failed to apply reloaded policies: %w", err)
		}
		l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
		return nil
	}, watch.WithFilter(isRegoFile), watch.WithLogger(l.logger))

	if err := w.Start(ctx, paths); err != nil {
		return err
	}

	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()

	l.logger.Info().Strs("paths", paths).Msg("Started watching policies")
	return nil
}

// StopWatching stops a watch started with Watch.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop()
}

// ClearCache forgets every file read so far.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]cachedFile)
}
