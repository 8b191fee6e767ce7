// Package config loads and hot-reloads the core's configuration the way
// the teacher's services/config.go layers koanf providers: defaults, then a
// JSON file, then environment overrides, guarded by a timed lock so a
// concurrent reload can never block a reader indefinitely.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Timeouts holds the per-operation-class timeouts of spec §5.
type Timeouts struct {
	EmbedMS              int `json:"embedMs" mapstructure:"embedMs"`
	VectorSearchMS       int `json:"vectorSearchMs" mapstructure:"vectorSearchMs"`
	GenerateFirstTokenMS int `json:"generateFirstTokenMs" mapstructure:"generateFirstTokenMs"`
	GenerateTotalMS      int `json:"generateTotalMs" mapstructure:"generateTotalMs"`
}

// Configuration is the complete tunable surface of the core.
type Configuration struct {
	App struct {
		Name     string `json:"name" mapstructure:"name"`
		LogLevel string `json:"logLevel" mapstructure:"logLevel"`
	} `json:"app" mapstructure:"app"`

	Store struct {
		// SQLitePath is where the core's own derived state (ScoringProfile/
		// EmbeddingRecord mirror, CagCacheEntry, provenance ledger, JobRun
		// ledger) lives when no external catalog store is wired in-process.
		SQLitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`
	} `json:"store" mapstructure:"store"`

	Timeouts Timeouts `json:"timeouts" mapstructure:"timeouts"`

	IDX struct {
		ChunkRecipeID        string `json:"chunkRecipeId" mapstructure:"chunkRecipeId"`
		ConsistencyHorizonMS int    `json:"consistencyHorizonMs" mapstructure:"consistencyHorizonMs"`
	} `json:"idx" mapstructure:"idx"`

	SIM struct {
		EraTauYears float64 `json:"eraTauYears" mapstructure:"eraTauYears"`
	} `json:"sim" mapstructure:"sim"`

	CR struct {
		// PreFilterThreshold is T in spec §4.3's performance contract.
		PreFilterThreshold int `json:"preFilterThreshold" mapstructure:"preFilterThreshold"`
		DefaultCastTopN    int `json:"defaultCastTopN" mapstructure:"defaultCastTopN"`
	} `json:"cr" mapstructure:"cr"`

	CAG struct {
		MaxPrefilterCandidates int    `json:"maxPrefilterCandidates" mapstructure:"maxPrefilterCandidates"`
		RetrievalTopM          int    `json:"retrievalTopM" mapstructure:"retrievalTopM"`
		ContextTokenBudget     int    `json:"contextTokenBudget" mapstructure:"contextTokenBudget"`
		CacheCeilingMiB        int    `json:"cacheCeilingMiB" mapstructure:"cacheCeilingMiB"`
		GeneratorModelID       string `json:"generatorModelId" mapstructure:"generatorModelId"`
		GeneratorProvider      string `json:"generatorProvider" mapstructure:"generatorProvider"`
	} `json:"cag" mapstructure:"cag"`
}

// Defaults mirrors the teacher's constants.DefaultConfig map-of-dotted-keys
// convention, fed into koanf via the confmap provider before the file and
// env providers are layered on top.
var Defaults = map[string]interface{}{
	"app.name":     "mediacore",
	"app.logLevel": "info",

	"store.sqlitePath": "./mediacore.db",

	"timeouts.embedMs":              2000,
	"timeouts.vectorSearchMs":       1500,
	"timeouts.generateFirstTokenMs": 5000,
	"timeouts.generateTotalMs":      60000,

	"idx.chunkRecipeId":         "v1",
	"idx.consistencyHorizonMs":  5000,

	"sim.eraTauYears": 10.0,

	"cr.preFilterThreshold": 50000,
	"cr.defaultCastTopN":    3,

	"cag.maxPrefilterCandidates": 500,
	"cag.retrievalTopM":          12,
	"cag.contextTokenBudget":     4000,
	"cag.cacheCeilingMiB":        256,
	"cag.generatorModelId":       "local-default",
	"cag.generatorProvider":      "ollama",
}

// Service loads configuration and keeps it fresh under a hot-reload watch.
type Service struct {
	mu   sync.RWMutex
	k    *koanf.Koanf
	cfg  *Configuration
	path string
}

// NewService constructs a Service without loading; call Load to populate it.
func NewService(path string) *Service {
	return &Service{k: koanf.New("."), path: path}
}

// tryLock acquires lock with a timeout so a stuck reload can never wedge a
// reader forever, matching the teacher's tryLock helper.
func tryLock(lock *sync.RWMutex, timeout time.Duration) bool {
	done := make(chan struct{}, 1)
	go func() {
		lock.Lock()
		done <- struct{}{}
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		// The goroutine above still acquires the lock eventually; release
		// it then so the abandoned attempt does not hold it forever.
		go func() {
			<-done
			lock.Unlock()
		}()
		return false
	}
}

// Load reads defaults, then an optional .env file, then the JSON file at
// path (if present), then environment variables prefixed MEDIACORE_.
func (s *Service) Load() error {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults, "."), nil); err != nil {
		return fmt.Errorf("config: load defaults: %w", err)
	}
	if s.path != "" {
		if err := k.Load(file.Provider(s.path), kjson.Parser()); err != nil {
			// Missing config file is not fatal: defaults + env still apply.
			_ = err
		}
	}
	if err := k.Load(env.Provider("MEDIACORE_", ".", func(s string) string {
		return s
	}), nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}

	if !tryLock(&s.mu, 500*time.Millisecond) {
		return fmt.Errorf("config: reload timed out acquiring lock")
	}
	defer s.mu.Unlock()
	s.k = k
	s.cfg = &cfg
	return nil
}

// Get returns the current configuration snapshot.
func (s *Service) Get() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return Configuration{}
	}
	return *s.cfg
}

// WatchFile reloads configuration whenever the backing file changes,
// grounded on Nomadcxx-jellywatch's fsnotify usage. onErr receives reload
// failures; it may be nil.
func (s *Service) WatchFile(onErr func(error)) (stop func(), err error) {
	if s.path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", s.path, err)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.Load(); err != nil && onErr != nil {
						onErr(err)
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onErr != nil {
					onErr(werr)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		watcher.Close()
	}, nil
}
