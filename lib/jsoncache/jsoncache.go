// Package jsoncache stores JSON snapshots on disk. Entries carry no TTL of
// their own, staleness is the age of the file's modification time compared
// against the max age given by the reader.
package jsoncache

import (
	"encoding"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"stemsync/lib/chrono"
	"stemsync/lib/telemetry"

	"github.com/goccy/go-json"
)

const (
	report_cache_read  = "cache.read"
	report_cache_write = "cache.write"
)

type Store struct {
	tel  telemetry.API
	time chrono.TimeAPI
}

func NewStore(tel telemetry.API, clock chrono.TimeAPI) Store {
	if clock == nil {
		clock = chrono.StandardTime{}
	}
	return Store{
		tel:  telemetry.NewScopedAPI("jsoncache", tel),
		time: clock,
	}
}

// Age returns how long ago the file at `path` was last written.
func (s Store) Age(path string) (time.Duration, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return s.time.Now().Sub(info.ModTime()), true
}

func (s Store) load(path string, maxAge time.Duration) ([]byte, bool) {
	age, ok := s.Age(path)
	if !ok {
		s.tel.ReportDebug("no cache file", path)
		return nil, false
	}
	if age >= maxAge {
		s.tel.ReportDebug("cache file is stale", path, age.Round(time.Second).String())
		return nil, false
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		s.tel.ReportBroken(report_cache_read, err, path)
		return nil, false
	}
	s.tel.ReportDebug("read cache file", path, age.Round(time.Second).String())
	return contents, true
}

// Read returns the contents of the cache file at `path` if it is younger
// than `maxAge`. Missing, stale, unreadable or invalid files all result in
// an empty map, errors are reported and never returned.
func (s Store) Read(path string, maxAge time.Duration) map[string]any {
	out := map[string]any{}
	if !s.ReadInto(path, maxAge, &out) {
		return map[string]any{}
	}
	if out == nil {
		return map[string]any{}
	}
	return out
}

// ReadInto is Read but decodes into `out`, it reports whether `out` was
// populated.
func (s Store) ReadInto(path string, maxAge time.Duration, out any) bool {
	contents, ok := s.load(path, maxAge)
	if !ok {
		return false
	}
	err := json.Unmarshal(contents, out)
	if err != nil {
		s.tel.ReportBroken(report_cache_read, fmt.Errorf("decode %s: %w", path, err))
		return false
	}
	return true
}

// Write serializes `data` to `path`, creating parent directories as needed.
// Values the encoder cannot represent are written as their fmt.Sprint form.
func (s Store) Write(path string, data any) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.tel.ReportDebug("falling back to string encoding", path, err)
		encoded, err = json.MarshalIndent(stringFallback(reflect.ValueOf(data)), "", "  ")
		if err != nil {
			s.tel.ReportBroken(report_cache_write, err, path)
			return fmt.Errorf("jsoncache: encode %s: %w", path, err)
		}
	}

	err = os.MkdirAll(filepath.Dir(path), 0777)
	if err != nil {
		s.tel.ReportBroken(report_cache_write, err, path)
		return fmt.Errorf("jsoncache: %w", err)
	}

	tmp := path + ".tmp"
	err = os.WriteFile(tmp, encoded, 0644)
	if err != nil {
		s.tel.ReportBroken(report_cache_write, err, path)
		return fmt.Errorf("jsoncache: %w", err)
	}
	err = os.Rename(tmp, path)
	if err != nil {
		os.Remove(tmp)
		s.tel.ReportBroken(report_cache_write, err, path)
		return fmt.Errorf("jsoncache: %w", err)
	}
	s.tel.ReportDebug("wrote cache file", path)
	return nil
}

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// stringFallback rebuilds `v` out of values the encoder accepts.
func stringFallback(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Type().Implements(textMarshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return fmt.Sprint(v.Interface())
		}
		return string(text)
	}
	if v.Type().Implements(marshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		encoded, err := v.Interface().(json.Marshaler).MarshalJSON()
		if err != nil || !json.Valid(encoded) {
			return fmt.Sprint(v.Interface())
		}
		return json.RawMessage(encoded)
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return stringFallback(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = stringFallback(iter.Value())
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Bytes()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = stringFallback(v.Index(i))
		}
		return out
	case reflect.Struct:
		return structFallback(v)
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprint(v.Interface())
	default:
		return v.Interface()
	}
}

func structFallback(v reflect.Value) map[string]any {
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		value := v.Field(i)
		if omitEmpty && value.IsZero() {
			continue
		}
		out[name] = stringFallback(value)
	}
	return out
}
