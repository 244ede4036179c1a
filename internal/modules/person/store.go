// README: Person store: one JSON file per person in a directory.
package person

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".json"

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Save writes p atomically to <dir>/<username>.json.
func (s *Store) Save(p *Person) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, p.Username+fileExt)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadAll reads every person file in the directory, ordered by file name.
// A missing directory yields no persons.
func (s *Store) LoadAll() ([]*Person, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	persons := make([]*Person, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		p, err := s.load(filepath.Join(s.dir, name))
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[string(p.ID)]; dup {
			return nil, fmt.Errorf("%w: id %s in both %s and %s", ErrInvalidPerson, p.ID, prev, name)
		}
		seen[string(p.ID)] = name
		persons = append(persons, p)
	}
	return persons, nil
}

func (s *Store) load(path string) (*Person, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Person
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &p, nil
}
