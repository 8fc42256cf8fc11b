// Package store persists the dataset in one flat file.
//
// Every mutation is a full read-modify-write: the file is loaded, one
// section is changed in memory, and the whole file is rewritten. Mutations
// against the same path are serialised through a process-wide lock, and
// writes go through a temp file and rename so readers, which take no lock,
// never see a half-written file.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/JonMunkholm/palaystore/internal/codec"
	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/logging"
	"github.com/JonMunkholm/palaystore/internal/normalize"
	"github.com/JonMunkholm/palaystore/internal/schema"
)

// Store reads and writes one data file.
type Store struct {
	path     string
	reg      *schema.Registry
	codec    *codec.Codec
	validate *validator.Validate
	log      *slog.Logger
	mu       *sync.Mutex
	newID    func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDGenerator replaces the random UUID generator used for new records.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New returns a store for the file at path. The file need not exist yet.
func New(path string, reg *schema.Registry, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: data file path is empty", core.ErrStorage)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", core.ErrStorage, path, err)
	}
	abs = filepath.Clean(abs)

	s := &Store{
		path:     abs,
		reg:      reg,
		validate: newValidator(),
		log:      slog.Default(),
		mu:       lockFor(abs),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "store", "file", abs)
	s.codec = codec.New(reg, s.log)

	return s, nil
}

// Path returns the absolute path of the data file.
func (s *Store) Path() string {
	return s.path
}

// Registry returns the schema registry.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Load reads the data file. A missing file yields a dataset with every
// section present and empty. A file that exists but holds no section
// header is ErrCorruptFile; it is never mistaken for an empty dataset.
func (s *Store) Load(ctx context.Context) (*core.Dataset, error) {
	start := time.Now()
	ds, err := s.load(ctx)
	observe("load", "", start, err)
	return ds, err
}

func (s *Store) load(ctx context.Context) (*core.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return normalize.Dataset(s.reg, core.NewDataset()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open data file: %w", core.ErrStorage, err)
	}
	defer f.Close()

	text, err := codec.ReadText(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read data file: %w", core.ErrStorage, err)
	}

	ds, err := s.codec.Decode(text)
	if err != nil {
		logging.Enrich(ctx, s.log).Error("data file unreadable", "error", err)
		return nil, err
	}

	ds = normalize.Dataset(s.reg, ds)
	recordSizes(ds)
	return ds, nil
}

// Save writes ds to the file, replacing its contents. The dataset is
// normalized on a copy first; ds itself is not modified.
func (s *Store) Save(ctx context.Context, ds *core.Dataset) error {
	start := time.Now()

	s.mu.Lock()
	err := s.save(ctx, ds)
	s.mu.Unlock()

	observe("save", "", start, err)
	return err
}

// save encodes and writes. Callers hold s.mu.
func (s *Store) save(ctx context.Context, ds *core.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ds = normalize.Dataset(s.reg, ds.ShallowCopy())

	text, err := s.codec.Encode(ds)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", core.ErrStorage, err)
	}

	if err := writeAtomic(s.path, []byte(text)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorage, err)
	}

	recordSizes(ds)
	return nil
}

// Section loads the file and returns one section.
func (s *Store) Section(ctx context.Context, list string) (core.Section, error) {
	sec, ok := s.reg.Lookup(list)
	if !ok {
		return core.Section{}, fmt.Errorf("%w: %q", core.ErrUnknownList, list)
	}

	ds, err := s.Load(ctx)
	if err != nil {
		return core.Section{}, err
	}

	out, _ := ds.Section(sec.Name)
	return out, nil
}

// Mutate applies one action to one list as an atomic load, apply and save.
// A failed apply writes nothing.
func (s *Store) Mutate(ctx context.Context, list string, action core.Action, item core.Record) (core.Section, error) {
	start := time.Now()
	out, err := s.mutate(ctx, list, action, item)
	observe(string(action), s.listLabel(list), start, err)
	return out, err
}

func (s *Store) mutate(ctx context.Context, list string, action core.Action, item core.Record) (core.Section, error) {
	if err := ctx.Err(); err != nil {
		return core.Section{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.load(ctx)
	if err != nil {
		return core.Section{}, err
	}

	next, updated, err := s.Apply(ds, list, action, item)
	if err != nil {
		return core.Section{}, err
	}

	if err := s.save(ctx, next); err != nil {
		return core.Section{}, err
	}

	actor := core.ActorFromContext(ctx)
	logging.Enrich(ctx, s.log).Info("list mutated",
		"list", updated.Name,
		"action", action,
		"target", mutationTarget(updated, action, item),
		"size", updated.Len(),
		"source", actor.Source,
		"ip", actor.IPAddress,
	)
	return updated, nil
}

// Replace writes a whole dataset, as for a bulk import. Records are coerced
// and normalized the same way single-item mutations are; records without
// an id, or with an id already used in their section, get a new one.
// Required fields are not enforced, so historical data can be imported as
// is. Unknown raw sections of the current file are carried over when the
// new dataset has none.
func (s *Store) Replace(ctx context.Context, ds *core.Dataset) (*core.Dataset, error) {
	start := time.Now()
	out, err := s.replace(ctx, ds)
	observe("replace", "", start, err)
	return out, err
}

func (s *Store) replace(ctx context.Context, ds *core.Dataset) (*core.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ds == nil {
		ds = core.NewDataset()
	}

	prepared, err := s.prepareDataset(ds)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prepared.Unknown == nil {
		if current, err := s.load(ctx); err == nil {
			prepared.Unknown = current.Unknown
		}
	}

	if err := s.save(ctx, prepared); err != nil {
		return nil, err
	}

	logging.Enrich(ctx, s.log).Info("dataset replaced",
		"lists", len(prepared.Lists),
		"maps", len(prepared.Maps),
	)
	return prepared, nil
}

// Rewrite loads the file and saves it back in canonical form under the
// write lock, so a mutation cannot land between the read and the write.
func (s *Store) Rewrite(ctx context.Context) (*core.Dataset, error) {
	start := time.Now()
	out, err := s.rewrite(ctx)
	observe("rewrite", "", start, err)
	return out, err
}

func (s *Store) rewrite(ctx context.Context) (*core.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, ds); err != nil {
		return nil, err
	}

	logging.Enrich(ctx, s.log).Info("data file rewritten", "path", s.path)
	return ds, nil
}

// listLabel bounds the metrics label set to known section names.
func (s *Store) listLabel(list string) string {
	if canonical, ok := s.reg.Canonical(list); ok {
		return canonical
	}
	return "unknown"
}
