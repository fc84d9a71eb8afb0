package config

import (
	"fmt"
	"strconv"
)

// KeyInfo is one row of `config show` output.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll lists every settable key with its effective value. Secrets are
// omitted entirely rather than masked; they live in the environment, not
// the file.
func ShowAll(cfg Config) []KeyInfo {
	infos := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		infos = append(infos, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprint(s.extract(cfg)),
		})
	}
	return infos
}

// SetKey parses value according to the key's declared type and persists it
// to the config file.
func SetKey(key, value string) error {
	return setKeyIn(newFileBackend(configFilePath()), key, value)
}

func setKeyIn(b *fileBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return b.SetInt(key, i)
	case kFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number: %w", key, err)
		}
		return b.SetFloat(key, f)
	default:
		return b.SetString(key, value)
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys lists the settable key names, for CLI error hints.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
