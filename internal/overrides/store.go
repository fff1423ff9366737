package overrides

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// A Store persists the override map across restarts.
type Store interface {
	Load() (map[string]Override, error)
	Save(overrides map[string]Override) error
}

// YAMLStore persists overrides to a YAML file. Writes go through a temporary
// file and a rename, so a crash mid-write never corrupts the stored state.
type YAMLStore struct {
	Path string
}

var _ Store = YAMLStore{}

func (s YAMLStore) Load() (map[string]Override, error) {
	content, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Override), nil
	}
	if err != nil {
		return nil, err
	}
	var overrides map[string]Override
	if err = yaml.Unmarshal(content, &overrides); err != nil {
		return nil, fmt.Errorf("invalid overrides file %s: %w", s.Path, err)
	}
	if overrides == nil {
		overrides = make(map[string]Override)
	}
	return overrides, nil
}

func (s YAMLStore) Save(overrides map[string]Override) error {
	content, err := yaml.Marshal(overrides)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
