package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// yamlStringFields are string-typed config fields that YAML authors tend to
// write unquoted: chat ids, numeric api hashes and durations in seconds.
// Their scalars are kept as strings so the strict JSON decode accepts them.
var yamlStringFields = map[string]bool{
	"telegram.group_log":         true,
	"telegram.poll_timeout":      true,
	"mtproto.api_hash":           true,
	"mtproto.dial_timeout":       true,
	"relay.login_timeout":        true,
	"relay.listen_backoff_min":   true,
	"relay.listen_backoff_max":   true,
	"relay.dedup_retention":      true,
	"relay.dedup_sweep_interval": true,
	"delivery.retry_base":        true,
	"delivery.retry_max_delay":   true,
	"delivery.send_timeout":      true,
	"storage.busy_timeout":       true,
}

// coerceToJSONBytes turns a YAML file into JSON so both formats share the
// strict decoder. It returns the detected format, "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml %s: %w", filepath.Base(path), err)
	}
	if v == nil {
		return nil, "yaml", errors.New("yaml " + filepath.Base(path) + ": empty document")
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, "yaml", fmt.Errorf("yaml %s: top level must be a mapping, got %T", filepath.Base(path), v)
	}

	j, err := json.Marshal(normalizeYAML("", v))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML stringifies map keys and the scalars of yamlStringFields.
// path is the dotted key path of in.
func normalizeYAML(path string, in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			key := fmt.Sprint(k)
			m[key] = normalizeYAML(joinPath(path, key), v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(joinPath(path, k), v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(path, x[i])
		}
		return x
	case int:
		if yamlStringFields[path] {
			return strconv.Itoa(x)
		}
	case int64:
		if yamlStringFields[path] {
			return strconv.FormatInt(x, 10)
		}
	case uint64:
		if yamlStringFields[path] {
			return strconv.FormatUint(x, 10)
		}
	case float64:
		if yamlStringFields[path] {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return in
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
