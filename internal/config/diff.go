package config

import (
	"encoding/json"
	"reflect"
)

// ChangedSections lists the top-level sections that differ between two
// configs, by their JSON names. Values are never returned, so the result is
// safe to log even when tokens changed.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	ov := reflect.ValueOf(*oldCfg)
	nv := reflect.ValueOf(*newCfg)
	t := ov.Type()

	var changed []string
	for i := 0; i < t.NumField(); i++ {
		a, _ := json.Marshal(ov.Field(i).Interface())
		b, _ := json.Marshal(nv.Field(i).Interface())
		if string(a) != string(b) {
			changed = append(changed, jsonName(t.Field(i)))
		}
	}
	return changed
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			tag = tag[:i]
			break
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
