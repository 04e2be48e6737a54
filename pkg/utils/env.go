package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func Env(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// EnvUint64 accepts zero, unlike EnvInt, since several thresholds use 0 as "disabled".
func EnvUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func EnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// EnvDuration parses values like "30s" or "1h". A bare integer is read as seconds.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// EnvList splits a whitespace separated variable. Commas are left alone since
// some values, like multi-host DSNs, contain them.
func EnvList(key string, def []string) []string {
	fields := strings.Fields(os.Getenv(key))
	if len(fields) == 0 {
		return def
	}
	return fields
}
