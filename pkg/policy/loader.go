package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego and .json files.
type Loader struct {
	fs      afero.Fs
	logger  zerolog.Logger
	mu      sync.RWMutex
	cache   map[string]cachedPolicies
	watcher *fsnotify.Watcher
}

type cachedPolicies struct {
	modTime  time.Time
	policies []Policy
}

// NewLoader creates a policy loader reading from fs. A nil fs reads from
// the operating system.
func NewLoader(fs afero.Fs, logger zerolog.Logger) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{
		fs:     fs,
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicies),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
// Directories are walked recursively in lexical order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return l.loadFromFile(path, info)
	}

	var policies []Policy
	err = afero.Walk(l.fs, path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if fi.IsDir() || !isPolicyFile(p) {
			return nil
		}
		loaded, err := l.loadFromFile(p, fi)
		if err != nil {
			return err
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

func (l *Loader) loadFromFile(path string, info os.FileInfo) ([]Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.policies, nil
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch filepath.Ext(path) {
	case ".rego":
		policies = []Policy{parseRegoFile(path, data)}
	case ".json":
		policies, err = parseJSONFile(path, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = cachedPolicies{modTime: info.ModTime(), policies: policies}
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", path).
		Int("policies", len(policies)).
		Msg("Policy file loaded")

	return policies, nil
}

// parseRegoFile names the policy after the file. A "# severity: <level>"
// comment overrides the default error severity.
func parseRegoFile(path string, data []byte) Policy {
	content := string(data)
	p := Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(content),
		Rego:        content,
		Severity:    SeverityError,
		Enabled:     true,
		Source:      path,
	}
	for _, line := range strings.Split(content, "\n") {
		comment, ok := strings.CutPrefix(strings.TrimSpace(line), "#")
		if !ok {
			continue
		}
		if sev, ok := strings.CutPrefix(strings.TrimSpace(comment), "severity:"); ok {
			p.Severity = Severity(strings.TrimSpace(sev))
		}
	}
	return p
}

// jsonPolicy defaults Enabled to true when omitted.
type jsonPolicy struct {
	Policy
	Enabled *bool `json:"enabled"`
}

func (j jsonPolicy) resolve(path string) (Policy, error) {
	p := j.Policy
	if p.Name == "" || p.Rego == "" {
		return Policy{}, fmt.Errorf("policy in %s needs a name and rego", path)
	}
	p.Enabled = j.Enabled == nil || *j.Enabled
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	p.Source = path
	return p, nil
}

// parseJSONFile accepts a single policy or a bundle with a policies list.
func parseJSONFile(path string, data []byte) ([]Policy, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	if _, ok := probe["policies"]; !ok {
		var j jsonPolicy
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
		p, err := j.resolve(path)
		if err != nil {
			return nil, err
		}
		return []Policy{p}, nil
	}

	var bundle struct {
		Name     string       `json:"name"`
		Policies []jsonPolicy `json:"policies"`
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	out := make([]Policy, 0, len(bundle.Policies))
	for _, j := range bundle.Policies {
		p, err := j.resolve(path)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// extractDescription joins the leading comment block of a Rego file.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if comment, ok := strings.CutPrefix(trimmed, "#"); ok {
			comment = strings.TrimSpace(comment)
			if comment == "" || strings.HasPrefix(comment, "severity:") {
				continue
			}
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(comment)
		} else if trimmed != "" {
			break
		}
	}

	return description.String()
}

// Watch reloads the policies under paths whenever a .rego or .json file is
// written or created, then passes them to reloadFn. Watching needs the
// paths to exist on the operating system's file system.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if !info.IsDir() {
			if err := watcher.Add(path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(p)
			}
			return nil
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache drops every cached policy file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]cachedPolicies)
}
