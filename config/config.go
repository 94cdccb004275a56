// Package config loads runtime settings from YAML files and builds a
// configured osp.Runtime from them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jaseci-labs/osp"
	"github.com/jaseci-labs/osp/badgerstore"
)

const (
	DriverMemory = "memory"
	DriverBadger = "badger"
)

// ErrInvalidConfig is returned by Validate and by every loader that
// validates.
var ErrInvalidConfig = errors.New("osp: invalid config")

// Config is the file layout of an ospctl or embedding program configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Threads ThreadsConfig `yaml:"threads"`
	Log     LogConfig     `yaml:"log"`

	// Root is the id of the context root. Empty selects the system root.
	Root string `yaml:"root,omitempty" validate:"omitempty,uuid"`
}

// StoreConfig selects and tunes the anchor backend.
type StoreConfig struct {
	Driver     string        `yaml:"driver" validate:"required,oneof=memory badger"`
	Path       string        `yaml:"path,omitempty" validate:"required_if=Driver badger InMemory false"`
	InMemory   bool          `yaml:"in_memory,omitempty"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval,omitempty" validate:"gte=0"`
}

type ThreadsConfig struct {
	// Workers bounds parallel threads. Zero runs each thread on its own
	// goroutine.
	Workers int `yaml:"workers" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns an in-process configuration with a memory store.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver:     DriverMemory,
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Logger builds a logger writing to w in the configured format and level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// OpenBackend opens the configured backend. Badger backends own their
// database and are released by Runtime.Close.
func (c Config) OpenBackend(prog *osp.Program, logger *slog.Logger) (osp.Backend, error) {
	switch c.Store.Driver {
	case DriverMemory, "":
		return osp.NewMemoryBackend(), nil
	case DriverBadger:
		bc := badgerstore.DefaultConfig()
		if c.Store.InMemory {
			bc = badgerstore.InMemoryConfig()
		}
		bc.Path = c.Store.Path
		bc.SyncWrites = c.Store.SyncWrites && !c.Store.InMemory
		bc.GCInterval = c.Store.GCInterval
		bc.Logger = logger
		return badgerstore.Open(bc, prog)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
}

// Dispatcher returns the dispatcher threads are submitted to, or nil for the
// runtime default.
func (c Config) Dispatcher() osp.Dispatcher {
	if c.Threads.Workers <= 0 {
		return nil
	}
	return osp.NewWorkerPoolDispatcher(c.Threads.Workers)
}

// RootID returns the configured context root.
func (c Config) RootID() (uuid.UUID, error) {
	if c.Root == "" {
		return osp.SystemRootID, nil
	}
	id, err := uuid.Parse(c.Root)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: root: %v", ErrInvalidConfig, err)
	}
	return id, nil
}

// NewRuntime opens the backend and returns a runtime using the configured
// logger, dispatcher and root. opts are applied after the configured ones.
func (c Config) NewRuntime(prog *osp.Program, logOut io.Writer, opts ...osp.Option) (*osp.Runtime, error) {
	root, err := c.RootID()
	if err != nil {
		return nil, err
	}
	logger := c.Logger(logOut)
	backend, err := c.OpenBackend(prog, logger.With(slog.String("component", "store")))
	if err != nil {
		return nil, err
	}
	base := []osp.Option{
		osp.WithLogger(logger),
		osp.WithDispatcher(c.Dispatcher()),
		osp.WithRoot(root),
	}
	return osp.New(backend, prog, append(base, opts...)...), nil
}
