package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ValidateArguments checks model-supplied arguments against a tool's
// JSON-schema subset: required fields, declared property types, and
// additionalProperties=false. Unknown schema keywords are ignored.
func ValidateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if v, ok := args[field]; !ok || v == nil {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	closed := false
	switch v := schema["additionalProperties"].(type) {
	case nil:
	case bool:
		closed = !v
	default:
		return errors.New(`schema "additionalProperties" must be a bool`)
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, ok := props[key].(map[string]any)
		if !ok {
			if closed {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}
		typ, _ := prop["type"].(string)
		if typ == "" || args[key] == nil {
			continue
		}
		if !matchesType(typ, args[key]) {
			return fmt.Errorf("argument %q must be %s", key, typ)
		}
		if enum, ok := prop["enum"].([]any); ok && !inEnum(enum, args[key]) {
			return fmt.Errorf("argument %q must be one of %v", key, enum)
		}
	}
	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

// matchesType is lenient where models commonly are: integers may arrive
// as whole floats or numeric strings.
func matchesType(expected string, v any) bool {
	switch expected {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		_, ok := toInt(v)
		return ok
	case "object":
		return reflect.TypeOf(v).Kind() == reflect.Map
	case "array":
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	default:
		return true
	}
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", "."), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// stringArg returns a trimmed string argument, or "" when absent.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// intArg returns an integer argument, or def when absent.
func intArg(args map[string]any, key string, def int64) int64 {
	n, ok := toInt(args[key])
	if !ok {
		return def
	}
	return n
}

// stringsArg accepts an array of strings or a comma-separated string.
func stringsArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
