package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
	"github.com/robert-at-pretension-io/hdlsim/internal/policy"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

// cacheIndexVersion invalidates every entry when the result layout or the
// simulation semantics change.
const cacheIndexVersion = 1

type cacheEntry struct {
	Key        string `json:"key"`
	ResultPath string `json:"result_path"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

type cachedResult struct {
	Result *Result      `json:"result"`
	Trace  *trace.Trace `json:"trace,omitempty"`
}

// resultCache stores batch results on disk, keyed by source name and
// invalidated when the program text or the configuration changes.
type resultCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newResultCache(dir string) *resultCache {
	return &resultCache{
		dir: dir,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *resultCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *resultCache) resultPath(key string) string {
	return filepath.Join(c.dir, "results", key+".json")
}

func (c *resultCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *resultCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSONAtomic(c.indexPath(), c.index)
}

func (c *resultCache) Get(name, key string) (*Result, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[name]
	c.mu.Unlock()
	if !ok || entry.Key != key {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.ResultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cached result: %w", err)
	}
	var cached cachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("parse cached result: %w", err)
	}
	if cached.Result == nil {
		return nil, false, nil
	}
	cached.Result.Trace = cached.Trace
	return cached.Result, true, nil
}

func (c *resultCache) Put(name, key string, res *Result) error {
	path := c.resultPath(key)
	if err := writeJSONAtomic(path, cachedResult{Result: res, Trace: res.Trace}); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[name] = cacheEntry{Key: key, ResultPath: path}
	c.mu.Unlock()
	return nil
}

// cacheKey identifies a program under a configuration and an advisory
// rule set.
func cacheKey(text string, cfg *config.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config for cache key: %w", err)
	}
	rules := ""
	if cfg.AdvisoriesEnabled() {
		rules, err = policy.RulesHash(cfg.Analysis.PolicyDir)
		if err != nil {
			return "", fmt.Errorf("hash advisory rules: %w", err)
		}
	}
	h := xxhash.New()
	for _, part := range []string{text, string(cfgJSON), rules} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func cacheEnabled(cfg *config.Config) bool {
	return cfg != nil && cfg.CacheEnabled()
}

func resolveCacheDir(rootPath string, cfg *config.Config) string {
	baseDir := rootPath
	if info, err := os.Stat(rootPath); err == nil && !info.IsDir() {
		baseDir = filepath.Dir(rootPath)
	}
	cacheDir := cfg.Analysis.Cache.Dir
	if cacheDir == "" {
		cacheDir = ".hdlsim_cache"
	}
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(baseDir, cacheDir)
	}
	return cacheDir
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
