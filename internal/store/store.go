package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"unitforge/internal/model"
	logx "unitforge/pkg/logx"
	"unitforge/pkg/yamlx"
)

// DefaultExt is used for new records.
const DefaultExt = ".json"

var recordExts = []string{".json", ".yaml", ".yml"}

// Save writes c to path as one record. The format follows the extension
// (.yaml/.yml for YAML, JSON otherwise). The write is atomic.
func Save(c *model.ServiceConfiguration, path string) error {
	data, err := encode(toRecord(c), path)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteFileAtomic(path, data, 0o644)
}

// Load reads the record at path. The file's stem is the configuration's
// name; a different embedded name is ignored.
//
// A missing file yields model.ErrNotFound, an undecodable one
// model.ErrCorruptConfiguration. Older layouts are upgraded on read.
func Load(path string) (*model.ServiceConfiguration, error) {
	c, _, err := load(path)
	return c, err
}

func load(path string) (*model.ServiceConfiguration, string, error) {
	name := NameFromPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", model.NotFound("record", name)
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, "", fmt.Errorf("read %s: %w", path, model.ErrPermissionDenied)
		}
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}

	jb, err := yamlx.PathToJSON(path, data)
	if err != nil {
		return nil, "", model.Corrupt(path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(jb, &raw); err != nil {
		return nil, "", model.Corrupt(path, err)
	}
	if raw == nil {
		return nil, "", model.Corrupt(path, errors.New("empty record"))
	}
	Upgrade(raw)

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, "", model.Corrupt(path, err)
	}
	rec := defaultRecord(name)
	if err := json.Unmarshal(upgraded, &rec); err != nil {
		return nil, "", model.Corrupt(path, err)
	}
	return rec.toModel(name), rec.Name, nil
}

// NameFromPath returns the record name for a path: its base name without a
// known record extension.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range recordExts {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}

func encode(r record, path string) ([]byte, error) {
	j, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return nil, err
	}
	if !yamlx.IsYAMLPath(path) {
		return append(j, '\n'), nil
	}
	return yamlx.FromJSON(j)
}

// Store keeps one record file per configuration in a directory.
type Store struct {
	dir string
	log logx.Logger
}

func New(dir string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) Dir() string { return s.dir }

// Path returns the record path for name: an existing file in any supported
// format, or <dir>/<name>.json.
func (s *Store) Path(name string) string {
	for _, ext := range recordExts {
		p := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(s.dir, name+DefaultExt)
}

func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Get loads the record for name.
func (s *Store) Get(name string) (*model.ServiceConfiguration, error) {
	path := s.Path(name)
	c, embedded, err := load(path)
	if err != nil {
		return nil, err
	}
	if embedded != "" && embedded != name {
		s.log.Warn("record name differs from file name; using file name",
			logx.String("path", path),
			logx.String("file_name", name),
			logx.String("embedded_name", embedded),
		)
	}
	return c, nil
}

// Put persists c, replacing any previous record of the same name.
func (s *Store) Put(c *model.ServiceConfiguration) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("create %s: %w", s.dir, model.ErrPermissionDenied)
		}
		return err
	}
	path := s.Path(c.Name)
	if err := Save(c, path); err != nil {
		return err
	}
	s.log.Debug("record saved", logx.String("service", c.Name), logx.String("path", path))
	return nil
}

// Remove deletes the record for name. It reports false when there was none.
func (s *Store) Remove(name string) (bool, error) {
	path := s.Path(name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return false, fmt.Errorf("remove %s: %w", path, model.ErrPermissionDenied)
		}
		return false, err
	}
	return true, nil
}

// List returns the names of all stored records, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seen := map[string]bool{}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := NameFromPath(e.Name())
		if name == e.Name() || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
