package compile

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Analysis is the context information kept for a compiled unit.
type Analysis struct {
	Unit        string   `yaml:"unit"`
	Fingerprint string   `yaml:"fingerprint"`
	Functions   []string `yaml:"functions,omitempty"`
	Requires    []string `yaml:"requires,omitempty"`
}

// Fingerprint returns the hex blake2b-256 digest of src.
func Fingerprint(src []byte) string {
	sum := blake2b.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// AnalysisCache stores analyses by unit name.
type AnalysisCache interface {
	Put(a Analysis) error
	Get(unit string) (Analysis, bool)
	Clear() error
}

type MemCache struct {
	mu sync.Mutex
	m  map[string]Analysis
}

func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]Analysis)}
}

func (c *MemCache) Put(a Analysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[a.Unit] = a
	return nil
}

func (c *MemCache) Get(unit string) (Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.m[unit]
	return a, ok
}

func (c *MemCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]Analysis)
	return nil
}

const cacheExt = ".ctx.yaml"

// DirCache keeps one YAML file per unit in a directory.
type DirCache struct {
	dir string
}

func NewDirCache(dir string) (*DirCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create analysis cache dir: %w", err)
	}
	return &DirCache{dir: dir}, nil
}

func (c *DirCache) path(unit string) string {
	return filepath.Join(c.dir, strings.ReplaceAll(unit, string(filepath.Separator), "_")+cacheExt)
}

func (c *DirCache) Put(a Analysis) error {
	data, err := yaml.Marshal(&a)
	if err != nil {
		return fmt.Errorf("encode analysis %s: %w", a.Unit, err)
	}
	if err := os.WriteFile(c.path(a.Unit), data, 0o644); err != nil {
		return fmt.Errorf("write analysis %s: %w", a.Unit, err)
	}
	return nil
}

func (c *DirCache) Get(unit string) (Analysis, bool) {
	data, err := os.ReadFile(c.path(unit))
	if err != nil {
		return Analysis{}, false
	}
	var a Analysis
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Analysis{}, false
	}
	return a, true
}

func (c *DirCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read analysis cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), cacheExt) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("clear analysis cache: %w", err)
		}
	}
	return nil
}
