package pmode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileDocument is the YAML layout of a FileStore
type fileDocument struct {
	DefaultPModeID string    `yaml:"defaultPModeId,omitempty"`
	PModes         []*Record `yaml:"pmodes"`
}

// FileStore keeps PModes in a YAML document. Every change rewrites the
// whole document through a temporary file and a rename.
type FileStore struct {
	path string

	// mu serialises mutations so the file always matches mem
	mu  sync.Mutex
	mem *MemoryStore
}

// OpenFileStore loads the document at path. A missing file starts empty
// and is created on the first write.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pmode file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pmode file %s: %w", path, err)
	}
	for i, rec := range doc.PModes {
		if rec == nil || rec.ID == "" {
			return nil, fmt.Errorf("pmode file %s: entry %d has no id", path, i)
		}
		p, err := FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("pmode file %s: %w", path, err)
		}
		if _, dup := s.mem.pmodes[p.ID]; dup {
			return nil, fmt.Errorf("pmode file %s: duplicate id %q", path, p.ID)
		}
		s.mem.pmodes[p.ID] = p
	}
	s.mem.defaultID = doc.DefaultPModeID
	return s, nil
}

// Path returns the backing file
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(ctx context.Context, id string) (*PMode, error) {
	return s.mem.Get(ctx, id)
}

func (s *FileStore) List(ctx context.Context, includeDeleted bool) ([]*PMode, error) {
	return s.mem.List(ctx, includeDeleted)
}

func (s *FileStore) DefaultID(ctx context.Context) (string, error) {
	return s.mem.DefaultID(ctx)
}

func (s *FileStore) Put(ctx context.Context, p *PMode) error {
	return s.mutate(ctx, func() error { return s.mem.Put(ctx, p) })
}

func (s *FileStore) SoftDelete(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.SoftDelete(ctx, id) })
}

func (s *FileStore) SetDefaultID(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error { return s.mem.SetDefaultID(ctx, id) })
}

// mutate applies fn and persists the result. The in-memory state is
// rolled back when the file cannot be written.
func (s *FileStore) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.mem.snapshot()
	if err := fn(); err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		s.mem.restore(snapshot)
		return err
	}
	return nil
}

func (s *FileStore) save(ctx context.Context) error {
	all, err := s.mem.List(ctx, true)
	if err != nil {
		return err
	}
	defaultID, err := s.mem.DefaultID(ctx)
	if err != nil {
		return err
	}

	doc := fileDocument{DefaultPModeID: defaultID, PModes: make([]*Record, 0, len(all))}
	for _, p := range all {
		doc.PModes = append(doc.PModes, ToRecord(p))
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding pmode file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".pmodes-*.yaml")
	if err != nil {
		return fmt.Errorf("writing pmode file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing pmode file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing pmode file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing pmode file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing pmode file: %w", err)
	}
	return nil
}

type memorySnapshot struct {
	pmodes    map[string]*PMode
	defaultID string
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{pmodes: make(map[string]*PMode, len(s.pmodes)), defaultID: s.defaultID}
	for id, p := range s.pmodes {
		snap.pmodes[id] = p.Clone()
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pmodes = snap.pmodes
	s.defaultID = snap.defaultID
}
