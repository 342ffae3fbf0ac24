// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/opendub/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment key read by the loader.
const EnvPrefix = "OPENDUB_"

// lookupFunc mirrors os.LookupEnv so tests can inject an environment.
type lookupFunc func(key string) (string, bool)

// parseEnv reads key through lookup and converts it with parse. Empty or
// unparsable values fall back to def; the choice is logged at debug level.
func parseEnv[T any](logger zerolog.Logger, lookup lookupFunc, key string, def T, parse func(string) (T, error)) (T, bool) {
	v, ok := lookup(key)
	if !ok {
		return def, false
	}
	if v == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return def, false
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Err(err).
			Msg("invalid value in environment variable, using default")
		return def, false
	}
	logger.Debug().
		Str("key", key).
		Str("source", "environment").
		Msg("using environment variable")
	return parsed, true
}

func envLogger() zerolog.Logger {
	return log.WithComponent("config")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, parseString)
	return v
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, strconv.Atoi)
	return v
}

// ParseDuration reads a Go duration ("5s", "1500ms") from environment variable.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, time.ParseDuration)
	return v
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, parseBool)
	return v
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, parseFloat)
	return v
}

// ParseList reads a comma separated list; blank entries are dropped.
func ParseList(key string, defaultValue []string) []string {
	v, _ := parseEnv(envLogger(), os.LookupEnv, key, defaultValue, parseList)
	return v
}

func parseString(s string) (string, error) { return s, nil }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

func parseList(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
