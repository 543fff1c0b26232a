// Package flowconfig parses the flat key=value pipeline configuration
// string, grounded on
// original_source/src/plugins/storage/cache/src/cacheOptParser.cpp's
// option table and defaults.
package flowconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowprobe/fprobe/internal/flowcache"
	"github.com/flowprobe/fprobe/internal/fragcache"
)

// Options mirrors CacheOptParser's parsed fields one-to-one.
type Options struct {
	SizeExponent uint
	LineExponent uint
	Active       time.Duration
	Inactive     time.Duration
	SplitBiflow  bool
	FragEnable   bool
	FragSize     int
	FragTimeout  time.Duration
}

// Default matches DEFAULT_FLOW_CACHE_SIZE=17, DEFAULT_FLOW_LINE_SIZE=4,
// DEFAULT_ACTIVE_TIMEOUT=300, DEFAULT_INACTIVE_TIMEOUT=30, and the
// fragmentation cache's frag-enable=true/frag-size=10007/frag-timeout=3.
func Default() Options {
	return Options{
		SizeExponent: flowcache.DefaultSizeExponent,
		LineExponent: flowcache.DefaultLineExponent,
		Active:       flowcache.DefaultActiveTimeout,
		Inactive:     flowcache.DefaultInactiveTimeout,
		SplitBiflow:  false,
		FragEnable:   fragcache.DefaultEnabled,
		FragSize:     fragcache.DefaultSize,
		FragTimeout:  fragcache.DefaultTimeout,
	}
}

// Parse reads a flat "key=value,key=value" string into Options, validating
// ranges the same way CacheOptParser does (size/line exponents 4-30,
// frag-size > 0).
func Parse(s string) (Options, error) {
	opts := Default()
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := strings.TrimSpace(kv[0])
		var value string
		if len(kv) == 2 {
			value = strings.TrimSpace(kv[1])
		}

		switch key {
		case "size", "s":
			n, err := parseExponent(value, 4, 30)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: size: %w", err)
			}
			opts.SizeExponent = n
		case "line", "l":
			n, err := parseExponent(value, 4, 30)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: line: %w", err)
			}
			opts.LineExponent = n
		case "active", "a":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: active: %w", err)
			}
			opts.Active = time.Duration(secs) * time.Second
		case "inactive", "i":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: inactive: %w", err)
			}
			opts.Inactive = time.Duration(secs) * time.Second
		case "split", "S":
			opts.SplitBiflow = true
		case "frag-enable", "fe":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: frag-enable: %w", err)
			}
			opts.FragEnable = b
		case "frag-size", "fs":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("flowconfig: frag-size must be > 0")
			}
			opts.FragSize = n
		case "frag-timeout", "ft":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return opts, fmt.Errorf("flowconfig: frag-timeout: %w", err)
			}
			opts.FragTimeout = time.Duration(secs) * time.Second
		default:
			return opts, fmt.Errorf("flowconfig: unknown option '%s'", key)
		}
	}

	if opts.LineExponent > opts.SizeExponent {
		return opts, fmt.Errorf("flowconfig: line exponent must be <= size exponent")
	}
	return opts, nil
}

func parseExponent(value string, min, max uint) (uint, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < int(min) || n > int(max) {
		return 0, fmt.Errorf("exponent %d out of range [%d,%d]", n, min, max)
	}
	return uint(n), nil
}

// CacheConfig converts parsed Options into a flowcache.Config.
func (o Options) CacheConfig() flowcache.Config {
	return flowcache.Config{
		SizeExponent: o.SizeExponent,
		LineExponent: o.LineExponent,
		Active:       o.Active,
		Inactive:     o.Inactive,
		SplitBiflow:  o.SplitBiflow,
		FragCache:    o.FragEnable,
		FragSize:     o.FragSize,
		FragTimeout:  o.FragTimeout,
	}
}
