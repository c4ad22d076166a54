// Package config reads numeric settings from the environment. Invalid values
// are logged and replaced by the default so a typo never stops a service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Int returns the positive integer in the named variable, or def.
func Int(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.WithField("var", name).Warnf("invalid value %q, using %d", raw, def)
		return def
	}
	return n
}

// Duration returns the positive duration in the named variable, or def.
func Duration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.WithField("var", name).Warnf("invalid value %q, using %v", raw, def)
		return def
	}
	return d
}

// Bool reports whether the named variable parses as true.
func Bool(name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	return err == nil && v
}
