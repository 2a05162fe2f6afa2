package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

var ErrConfigNotFound = errors.New("config file not found")

// File is an INI document with sections and keys kept in file order.
type File struct {
	sections []*Section
	index    map[string]*Section
}

type Section struct {
	name  string
	keys  []KeyValue
	index map[string]int
}

type KeyValue struct {
	Key   string
	Value string
}

func LoadFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrConfigNotFound, path)
	}

	parsed, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	file := &File{index: map[string]*Section{}}
	for _, raw := range parsed.Sections() {
		if raw.Name() == ini.DefaultSection && len(raw.Keys()) == 0 {
			continue
		}
		section := &Section{name: raw.Name(), index: map[string]int{}}
		for _, key := range raw.Keys() {
			section.index[key.Name()] = len(section.keys)
			section.keys = append(section.keys, KeyValue{Key: key.Name(), Value: key.Value()})
		}
		file.index[section.name] = section
		file.sections = append(file.sections, section)
	}
	return file, nil
}

func (f *File) Sections() []*Section {
	out := make([]*Section, len(f.sections))
	copy(out, f.sections)
	return out
}

// Section returns nil when the section is absent.
func (f *File) Section(name string) *Section {
	return f.index[name]
}

func (f *File) Get(section string, key string) (string, bool) {
	s := f.Section(section)
	if s == nil {
		return "", false
	}
	return s.Get(key)
}

func (s *Section) Name() string {
	return s.name
}

func (s *Section) Keys() []KeyValue {
	out := make([]KeyValue, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Section) Get(key string) (string, bool) {
	i, ok := s.index[key]
	if !ok {
		return "", false
	}
	return s.keys[i].Value, true
}
