package prompt

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/familyhub/contextd/pkg/logger"
	"github.com/familyhub/contextd/pkg/memory"
	"github.com/fsnotify/fsnotify"
)

//go:embed templates
var embedded embed.FS

// ErrTemplateNotFound is returned for a template that exists neither in the
// override directory nor in the embedded set.
var ErrTemplateNotFound = errors.New("prompt: template not found")

// Template paths.
const (
	IdentityTemplate        = "core/identity.md"
	IdentityMinimalTemplate = "core/identity_minimal.md"
	PrinciplesTemplate      = "core/principles.md"
	RulesTemplate           = "core/rules.md"
)

// RoleTemplate returns the template path for role.
func RoleTemplate(role memory.FamilyRole) string {
	return "roles/" + string(role) + ".md"
}

// SkillTemplate returns the template path for a skill name.
func SkillTemplate(name string) string {
	return "skills/" + name + ".md"
}

// LanguageTemplate returns the template path for a language preference.
func LanguageTemplate(lang string) string {
	return "languages/" + lang + ".md"
}

// Library loads markdown templates. Files in the override directory shadow
// the embedded ones of the same path. Loaded templates are cached until
// Reload.
type Library struct {
	base fs.FS
	dir  string
	log  logger.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewLibrary returns a library backed by the embedded templates and, when
// dir is not empty, overridden by files under dir.
func NewLibrary(dir string, log logger.Logger) *Library {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Library{
		base:  sub,
		dir:   dir,
		log:   log,
		cache: make(map[string]string),
	}
}

// Get returns the trimmed text of the template at name, e.g. "roles/child.md".
func (l *Library) Get(name string) (string, error) {
	name = path.Clean(name)
	if strings.HasPrefix(name, "..") || path.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	l.mu.RLock()
	text, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return text, nil
	}

	data, err := l.read(name)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(string(data))

	l.mu.Lock()
	l.cache[name] = text
	l.mu.Unlock()
	return text, nil
}

func (l *Library) read(name string) ([]byte, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, filepath.FromSlash(name)))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("prompt: read override %s: %w", name, err)
		}
	}
	data, err := fs.ReadFile(l.base, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return data, err
}

// Has reports whether the template exists.
func (l *Library) Has(name string) bool {
	_, err := l.Get(name)
	return err == nil
}

// Reload drops every cached template.
func (l *Library) Reload() {
	l.mu.Lock()
	l.cache = make(map[string]string)
	l.mu.Unlock()
	l.log.Info("prompt templates reloaded", "dir", l.dir)
}

// Dir returns the override directory.
func (l *Library) Dir() string {
	return l.dir
}

// Watch reloads the library whenever a file under the override directory
// changes. Events are debounced. It blocks until ctx is done.
func (l *Library) Watch(ctx context.Context, debounce time.Duration) error {
	if l.dir == "" {
		return fmt.Errorf("prompt: no template directory to watch")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompt: create watcher: %w", err)
	}
	defer w.Close()

	// fsnotify is not recursive; watch the root and each template folder.
	dirs := []string{l.dir}
	for _, sub := range []string{"core", "roles", "skills", "languages"} {
		p := filepath.Join(l.dir, sub)
		if st, err := os.Stat(p); err == nil && st.IsDir() {
			dirs = append(dirs, p)
		}
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("prompt: watch %s: %w", d, err)
		}
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, l.Reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("template watcher error", "error", err)
		}
	}
}
