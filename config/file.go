package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Conf files are "key = value" lines. Keys are the conf tags on Config
// fields; blank lines and lines starting with # are skipped.

// aliases are short keys accepted for common switches.
var aliases = map[string]string{
	"rpc":    "rpc.enabled",
	"p2p":    "p2p.enabled",
	"wallet": "wallet.name",
}

var durationType = reflect.TypeOf(time.Duration(0))

// LoadFile reads a conf file into raw key/value pairs. A missing file
// yields no values.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s line %d: want key = value", path, i+1)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return values, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// ApplyFileConfig sets every known key on cfg. Unknown keys are ignored so
// one file can serve all three binaries across versions.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	fields := confFields(cfg)
	for key, raw := range values {
		if full, ok := aliases[key]; ok {
			key = full
		}
		f, ok := fields[key]
		if !ok {
			continue
		}
		if err := setField(f, raw); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// confFields maps conf tags to the settable fields of cfg.
func confFields(cfg *Config) map[string]reflect.Value {
	out := make(map[string]reflect.Value)
	walkConf(reflect.ValueOf(cfg).Elem(), func(key string, f reflect.Value) {
		out[key] = f
	})
	return out
}

// walkConf visits tagged fields in declaration order, descending into
// untagged struct fields.
func walkConf(v reflect.Value, visit func(key string, f reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if key := t.Field(i).Tag.Get("conf"); key != "" {
			visit(key, f)
		} else if f.Kind() == reflect.Struct {
			walkConf(f, visit)
		}
	}
}

func setField(f reflect.Value, raw string) error {
	switch {
	case f.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case f.Kind() == reflect.String:
		if f.Type().Name() != "string" {
			// Enumerations such as network and relayd.mailbox.
			raw = strings.ToLower(raw)
		}
		f.SetString(raw)
	case f.Kind() == reflect.Bool:
		f.SetBool(parseBool(raw))
	case f.Kind() == reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case f.Kind() == reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		f.SetUint(n)
	case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
		f.Set(reflect.ValueOf(parseStringList(raw)))
	default:
		return fmt.Errorf("unsupported setting type %s", f.Type())
	}
	return nil
}

func formatField(f reflect.Value) string {
	switch {
	case f.Type() == durationType:
		return time.Duration(f.Int()).String()
	case f.Kind() == reflect.Slice:
		return strings.Join(f.Interface().([]string), ", ")
	default:
		return fmt.Sprint(f.Interface())
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// parseStringList splits a comma-separated value, dropping empty items.
func parseStringList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sectionTitles heads each group in a generated file.
var sectionTitles = map[string]string{
	"chain":   "Chain",
	"relay":   "Relay (wallet side)",
	"rpc":     "Control API (stealthwalletd)",
	"wallet":  "Wallet",
	"funding": "Funding",
	"relayd":  "Relay server (relayd)",
	"p2p":     "Relay federation (relayd)",
	"log":     "Logging",
}

// commentedOut are written disabled even when the default is set.
var commentedOut = map[string]bool{
	"datadir":               true,
	"relayd.redis.password": true,
}

// WriteDefaultConfig writes the network's defaults as a conf file. Empty
// settings are written commented out.
func WriteDefaultConfig(path string, network NetworkType) error {
	var b strings.Builder
	b.WriteString("# Stealth wallet configuration, read by stealthwalletd, relayd and funderd.\n")
	fmt.Fprintf(&b, "# The funder's private key is read from $%s only.\n", FundingKeyEnv)

	section := ""
	walkConf(reflect.ValueOf(Default(network)).Elem(), func(key string, f reflect.Value) {
		group, _, _ := strings.Cut(key, ".")
		if title, ok := sectionTitles[group]; ok && group != section {
			section = group
			fmt.Fprintf(&b, "\n# %s\n", title)
		}
		value := formatField(f)
		if value == "" || commentedOut[key] {
			fmt.Fprintf(&b, "# %s = %s\n", key, value)
			return
		}
		fmt.Fprintf(&b, "%s = %s\n", key, value)
	})
	return os.WriteFile(path, []byte(b.String()), 0644)
}
