package method

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// documentExts are tried in order when resolving an id to a file.
var documentExts = []string{".yaml", ".yml", ".json", ".toml"}

// Store loads method documents and prompt templates from disk and caches them.
// Cached entries live until the store is discarded or Invalidate is called;
// callers that already hold a *Config keep their copy.
type Store struct {
	methodsDir string
	promptsDir string
	logger     *logging.Logger

	mu      sync.RWMutex
	methods map[string]*Config
	prompts map[string]*PromptTemplate
	gen     uint64
}

// NewStore creates a store over methodsDir and promptsDir.
func NewStore(methodsDir, promptsDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		methodsDir: methodsDir,
		promptsDir: promptsDir,
		logger:     logger.Named("methods"),
		methods:    make(map[string]*Config),
		prompts:    make(map[string]*PromptTemplate),
	}
}

// LoadMethod returns the method document for id.
// It fails with ErrConfigNotFound if no file exists and ErrConfigInvalid if the
// file cannot be decoded or validated.
func (s *Store) LoadMethod(id string) (*Config, error) {
	if err := validateRef(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	s.mu.RLock()
	cfg, ok := s.methods[id]
	s.mu.RUnlock()
	if ok {
		return cfg, nil
	}

	path, data, err := readDocument(s.methodsDir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q in %s", ErrConfigNotFound, id, s.methodsDir)
		}
		return nil, err
	}

	cfg, err = ParseMethod(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.MethodID == "" {
		cfg.MethodID = id
	}

	s.mu.Lock()
	s.methods[id] = cfg
	s.mu.Unlock()

	s.logger.Info(context.Background(), "method loaded",
		zap.String("method_id", id),
		zap.String("path", path),
		zap.Int("phases", len(cfg.Phases)),
	)
	return cfg, nil
}

// LoadPrompt implements PromptSource.
func (s *Store) LoadPrompt(ref string) (*PromptTemplate, error) {
	if err := validateRef(ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPromptNotFound, err)
	}

	s.mu.RLock()
	t, ok := s.prompts[ref]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	path, data, err := readDocument(s.promptsDir, ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q in %s", ErrPromptNotFound, ref, s.promptsDir)
		}
		return nil, err
	}

	t = &PromptTemplate{}
	if err := decode(data, filepath.Ext(path), t); err != nil {
		return nil, fmt.Errorf("prompt %s: %w", path, err)
	}
	if t.ID == "" {
		t.ID = ref
	}

	s.mu.Lock()
	s.prompts[ref] = t
	s.mu.Unlock()
	return t, nil
}

// List returns the ids of all method documents in the methods directory.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.methodsDir)
	if err != nil {
		return nil, fmt.Errorf("reading methods dir: %w", err)
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isDocumentExt(ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops cached entries whose id matches the file name stem and
// advances the generation.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	delete(s.methods, id)
	delete(s.prompts, id)
	s.gen++
	s.mu.Unlock()
}

// Generation counts Invalidate calls. Holders of loaded methods or prompts
// compare it to tell whether anything they cached may be stale.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Watch invalidates cache entries when files in either directory change.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{s.methodsDir, s.promptsDir} {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			ext := filepath.Ext(event.Name)
			if !isDocumentExt(ext) {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(event.Name), ext)
			s.Invalidate(id)
			s.logger.Info(ctx, "method cache invalidated",
				zap.String("id", id),
				zap.String("op", event.Op.String()),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "method watcher error", zap.Error(err))
		}
	}
}

// ParseMethod decodes and prepares a method document. ext selects the format
// (".toml" uses TOML; everything else is read as YAML, which includes JSON).
func ParseMethod(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	if err := decode(data, ext, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, ext string, out any) error {
	if strings.EqualFold(ext, ".toml") {
		_, err := toml.Decode(string(data), out)
		return err
	}
	return yaml.NewDecoder(bytes.NewReader(data)).Decode(out)
}

func readDocument(dir, id string) (string, []byte, error) {
	for _, ext := range documentExts {
		path := filepath.Join(dir, id+ext)
		data, err := os.ReadFile(path)
		if err == nil {
			return path, data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return "", nil, fs.ErrNotExist
}

func isDocumentExt(ext string) bool {
	for _, e := range documentExts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// validateRef keeps ids from escaping their directory.
func validateRef(ref string) error {
	if ref == "" {
		return errors.New("empty reference")
	}
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid reference %q", ref)
	}
	return nil
}
