// Package settings reads typed configuration entries from prefixed
// environment variables.
//
// Entries are declared up front with their type and an optional default:
//
//	s := settings.New("stagegrid").
//		String("ref", "").
//		Int("workers", 10)
//
//	workers, err := s.RequireInt("workers") // reads STAGEGRID_WORKERS
//
// Reading an undeclared key returns a KeyNotFoundError, a value that does
// not parse returns a ParseError, and Require* on a key with neither value
// nor default returns a ValueNotFoundError.
package settings

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the declared type of an entry.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	}
	return "unknown"
}

// Entry declares a single setting.
type Entry struct {
	Name string
	Kind Kind
	// Default is nil when the entry has no default.
	Default *string
	Usage   string
}

// Source looks up raw values. ok is false when the value is not set.
type Source interface {
	Lookup(key string) (value string, ok bool)
}

// EnvSource resolves keys from prefixed environment variables:
// key "log_level" with prefix "STAGEGRID" reads STAGEGRID_LOG_LEVEL.
type EnvSource struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvSource creates an EnvSource for the given name.
func NewEnvSource(name string) *EnvSource {
	return &EnvSource{Prefix: strings.ToUpper(name), lookup: os.LookupEnv}
}

// EnvKey translates a key into its environment variable name.
func (s *EnvSource) EnvKey(key string) string {
	return s.Prefix + "_" + strings.ToUpper(key)
}

// Lookup implements Source.
func (s *EnvSource) Lookup(key string) (string, bool) {
	return s.lookup(s.EnvKey(key))
}

// MapSource is a fixed set of values, for tests and layering.
type MapSource map[string]string

// Lookup implements Source.
func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[strings.ToLower(key)]
	return v, ok
}

// Settings is a named set of declared entries backed by a Source.
type Settings struct {
	name    string
	source  Source
	entries map[string]Entry
}

// New creates settings read from environment variables prefixed with the
// upper-cased name.
func New(name string) *Settings {
	return NewWithSource(name, NewEnvSource(name))
}

// NewWithSource creates settings backed by a custom source.
func NewWithSource(name string, source Source) *Settings {
	return &Settings{name: name, source: source, entries: make(map[string]Entry)}
}

// Name returns the settings name.
func (s *Settings) Name() string { return s.name }

// Declare adds an entry. Declaring the same key twice replaces it.
func (s *Settings) Declare(e Entry) *Settings {
	e.Name = strings.ToLower(e.Name)
	s.entries[e.Name] = e
	return s
}

// String declares a string entry. The optional def is its default.
func (s *Settings) String(name string, def ...string) *Settings {
	return s.Declare(Entry{Name: name, Kind: KindString, Default: first(def)})
}

// Int declares an int entry.
func (s *Settings) Int(name string, def ...int) *Settings {
	return s.Declare(Entry{Name: name, Kind: KindInt, Default: firstFormatted(def, strconv.Itoa)})
}

// Bool declares a bool entry.
func (s *Settings) Bool(name string, def ...bool) *Settings {
	return s.Declare(Entry{Name: name, Kind: KindBool, Default: firstFormatted(def, strconv.FormatBool)})
}

// Duration declares a duration entry, parsed with time.ParseDuration.
func (s *Settings) Duration(name string, def ...time.Duration) *Settings {
	return s.Declare(Entry{Name: name, Kind: KindDuration, Default: firstFormatted(def, time.Duration.String)})
}

// Entries lists the declared entries sorted by name.
func (s *Settings) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// raw returns the value for key, falling back to its default.
func (s *Settings) raw(key string, kind Kind) (string, bool, error) {
	key = strings.ToLower(key)
	e, ok := s.entries[key]
	if !ok {
		return "", false, &KeyNotFoundError{Key: key}
	}
	if e.Kind != kind {
		return "", false, &ParseError{Key: key, Err: fmt.Errorf("declared as %s, read as %s", e.Kind, kind)}
	}
	if v, ok := s.source.Lookup(key); ok {
		return v, true, nil
	}
	if e.Default != nil {
		return *e.Default, true, nil
	}
	return "", false, nil
}

func get[T any](s *Settings, key string, kind Kind, parse func(string) (T, error)) (T, bool, error) {
	var zero T
	v, ok, err := s.raw(key, kind)
	if err != nil || !ok {
		return zero, false, err
	}
	out, err := parse(v)
	if err != nil {
		return zero, false, &ParseError{Key: strings.ToLower(key), Value: v, Err: err}
	}
	return out, true, nil
}

func requireValue[T any](key string, v T, ok bool, err error) (T, error) {
	if err != nil {
		return v, err
	}
	if !ok {
		return v, &ValueNotFoundError{Key: strings.ToLower(key)}
	}
	return v, nil
}

// GetString returns the value of a string entry; ok is false when unset
// and without default.
func (s *Settings) GetString(key string) (string, bool, error) {
	return get(s, key, KindString, func(v string) (string, error) { return v, nil })
}

// GetInt returns the value of an int entry.
func (s *Settings) GetInt(key string) (int, bool, error) {
	return get(s, key, KindInt, strconv.Atoi)
}

// GetBool returns the value of a bool entry.
func (s *Settings) GetBool(key string) (bool, bool, error) {
	return get(s, key, KindBool, strconv.ParseBool)
}

// GetDuration returns the value of a duration entry.
func (s *Settings) GetDuration(key string) (time.Duration, bool, error) {
	return get(s, key, KindDuration, time.ParseDuration)
}

// RequireString is GetString, treating a missing value as an error.
func (s *Settings) RequireString(key string) (string, error) {
	v, ok, err := s.GetString(key)
	return requireValue(key, v, ok, err)
}

// RequireInt is GetInt, treating a missing value as an error.
func (s *Settings) RequireInt(key string) (int, error) {
	v, ok, err := s.GetInt(key)
	return requireValue(key, v, ok, err)
}

// RequireBool is GetBool, treating a missing value as an error.
func (s *Settings) RequireBool(key string) (bool, error) {
	v, ok, err := s.GetBool(key)
	return requireValue(key, v, ok, err)
}

// RequireDuration is GetDuration, treating a missing value as an error.
func (s *Settings) RequireDuration(key string) (time.Duration, error) {
	v, ok, err := s.GetDuration(key)
	return requireValue(key, v, ok, err)
}

func first(vals []string) *string {
	if len(vals) == 0 {
		return nil
	}
	return &vals[0]
}

func firstFormatted[T any](vals []T, format func(T) string) *string {
	if len(vals) == 0 {
		return nil
	}
	s := format(vals[0])
	return &s
}
