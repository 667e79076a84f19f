// Package configutil reads layered configuration files. A config named
// "stemwizardapi.yaml" is read from that file and then from
// "stemwizardapi.local.yaml", values in the local file win.
package configutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/spf13/afero"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// LocalPath returns the path of the local override of `name`.
func LocalPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

func decode(name string, data []byte, out any) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	}
	// json5 is a superset of json
	return json5.Unmarshal(data, out)
}

// Loader reads configs from a filesystem.
type Loader struct {
	Fs afero.Fs
}

func (l Loader) fs() afero.Fs {
	if l.Fs == nil {
		return afero.NewOsFs()
	}
	return l.Fs
}

// layer decodes a single file, it reports false when the file is missing
// or empty.
func (l Loader) layer(name string, out any) (bool, error) {
	data, err := afero.ReadFile(l.fs(), name)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := decode(name, data, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

// Read decodes `name` and its local override into `out`, which must be a
// pointer to a struct. It returns os.ErrNotExist when neither file exists.
func (l Loader) Read(name string, out any) error {
	found, err := l.layer(name, out)
	if err != nil {
		return err
	}

	local := LocalPath(name)
	override, err := newLike(out)
	if err != nil {
		return err
	}
	hasLocal, err := l.layer(local, override)
	if err != nil {
		return err
	}
	if hasLocal {
		if err := mergo.Merge(out, override, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Debug("merged config with local overrides", "local", local)
	}

	if !found && !hasLocal {
		return os.ErrNotExist
	}
	return nil
}

// Find reads the first `name` found walking up from `dir` to the root.
func (l Loader) Find(dir, name string, out any) error {
	current, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for {
		err := l.Read(filepath.Join(current, name), out)
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return os.ErrNotExist
		}
		current = parent
	}
}

// ReadConfig reads `name` and its local override from the os filesystem.
func ReadConfig[T any](name string) (T, error) {
	var out T
	err := Loader{}.Read(name, &out)
	return out, err
}

// ReadRecursively is ReadConfig but it looks for `name` in the working
// directory and every parent of it.
func ReadRecursively[T any](name string) (T, error) {
	var out T
	wd, err := os.Getwd()
	if err != nil {
		return out, err
	}
	err = Loader{}.Find(wd, name, &out)
	return out, err
}
