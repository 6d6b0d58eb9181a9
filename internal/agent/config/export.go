package config

import (
	"reflect"
	"strings"
	"time"
)

// Map returns cfg as nested maps keyed by koanf names, the shape of the
// YAML file. Durations are rendered as strings.
func Map(cfg *Config) map[string]any {
	return structMap(reflect.ValueOf(cfg).Elem())
}

func structMap(v reflect.Value) map[string]any {
	m := make(map[string]any)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		m[name] = exportValue(v.Field(i))
	}
	return m
}

func exportValue(v reflect.Value) any {
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	if v.Kind() == reflect.Struct {
		return structMap(v)
	}
	return v.Interface()
}
