// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level global static configuration.
// Maps to the `fprobe:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig      `mapstructure:"node"`
	Control   ControlConfig   `mapstructure:"control"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	DataDir   string          `mapstructure:"data_dir"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string            `mapstructure:"ip"` // Empty = auto-detect
	Hostname string            `mapstructure:"hostname"`
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains the stats control-plane socket settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Pipeline ───

// PipelineConfig configures how traffic is captured and partitioned.
type PipelineConfig struct {
	Partitions   int            `mapstructure:"partitions"`
	RingCapacity int            `mapstructure:"ring_capacity"`
	Source       SourceConfig   `mapstructure:"source"`
}

// SourceConfig selects and configures a flowsource.Source implementation.
type SourceConfig struct {
	Type         string `mapstructure:"type"` // "file" | "afpacket"
	Path         string `mapstructure:"path"` // pcap file path, when type == "file"
	Interface    string `mapstructure:"interface"`
	BPFFilter    string `mapstructure:"bpf_filter"`
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
}

// ─── Flow Cache ───

// CacheConfig mirrors internal/flowconfig.Options in structured form, so it
// can be loaded from YAML/env instead of flowconfig's comma-separated
// option string.
type CacheConfig struct {
	SizeExponent int           `mapstructure:"size_exponent"`
	LineExponent int           `mapstructure:"line_exponent"`
	Active       time.Duration `mapstructure:"active_timeout"`
	Inactive     time.Duration `mapstructure:"inactive_timeout"`
	SplitBiflow  bool          `mapstructure:"split_biflow"`
	FragEnable   bool          `mapstructure:"frag_enable"`
	FragSize     int           `mapstructure:"frag_size"`
	FragTimeout  time.Duration `mapstructure:"frag_timeout"`
}

// ─── Sink ───

// SinkConfig selects and configures a flowsink.Sink implementation.
type SinkConfig struct {
	Type     string      `mapstructure:"type"` // "console" | "messagebus"
	Attempts int         `mapstructure:"attempts"`
	Kafka    KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka-backed Publisher used when
// sink.type == "messagebus".
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // "none" | "gzip" | "snappy" | "lz4"
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Resources ───

// ResourcesConfig contains global resource limits.
type ResourcesConfig struct {
	MaxWorkers int `mapstructure:"max_workers"` // 0 = auto (GOMAXPROCS)
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// LokiOutputConfig configures shipping logs to Grafana Loki.
type LokiOutputConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation via lumberjack.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `fprobe: ...`.
type configRoot struct {
	Fprobe GlobalConfig `mapstructure:"fprobe"`
}

// Load loads configuration from file.
// The YAML file uses `fprobe:` as root key; env vars use FPROBE_ prefix
// (e.g., FPROBE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Fprobe

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Watch starts watching path for changes and invokes onChange whenever the
// file is rewritten, via viper's fsnotify-backed file watcher. It does not
// parse or validate the new content itself; callers are expected to call
// Load again from onChange (mirroring the daemon's SIGHUP reload path) so a
// bad edit only fails that reload instead of tearing down the watcher.
func Watch(path string, onChange func()) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) != 0 {
			onChange()
		}
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default values for configuration, matching
// internal/flowcache's and internal/flowconfig's own defaults so a missing
// YAML section behaves identically to flowconfig.Default().
func setDefaults(v *viper.Viper) {
	v.SetDefault("fprobe.control.pid_file", "/var/run/fprobe.pid")
	v.SetDefault("fprobe.control.socket", "/var/run/fprobe.sock")

	v.SetDefault("fprobe.log.level", "info")
	v.SetDefault("fprobe.log.format", "json")
	v.SetDefault("fprobe.log.outputs.file.enabled", false)
	v.SetDefault("fprobe.log.outputs.file.path", "/var/log/fprobe/fprobe.log")
	v.SetDefault("fprobe.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("fprobe.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("fprobe.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("fprobe.log.outputs.file.rotation.compress", true)

	v.SetDefault("fprobe.metrics.enabled", true)
	v.SetDefault("fprobe.metrics.listen", ":9091")
	v.SetDefault("fprobe.metrics.path", "/metrics")

	v.SetDefault("fprobe.pipeline.partitions", 1)
	v.SetDefault("fprobe.pipeline.ring_capacity", 16384)
	v.SetDefault("fprobe.pipeline.source.type", "file")
	v.SetDefault("fprobe.pipeline.source.snap_len", 65536)
	v.SetDefault("fprobe.pipeline.source.buffer_size_mb", 64)
	v.SetDefault("fprobe.pipeline.source.timeout_ms", 100)

	v.SetDefault("fprobe.cache.size_exponent", 17)
	v.SetDefault("fprobe.cache.line_exponent", 4)
	v.SetDefault("fprobe.cache.active_timeout", "300s")
	v.SetDefault("fprobe.cache.inactive_timeout", "30s")
	v.SetDefault("fprobe.cache.split_biflow", false)
	v.SetDefault("fprobe.cache.frag_enable", true)
	v.SetDefault("fprobe.cache.frag_size", 10007)
	v.SetDefault("fprobe.cache.frag_timeout", "3s")

	v.SetDefault("fprobe.sink.type", "console")
	v.SetDefault("fprobe.sink.attempts", 3)
	v.SetDefault("fprobe.sink.kafka.batch_size", 100)
	v.SetDefault("fprobe.sink.kafka.batch_timeout", "100ms")
	v.SetDefault("fprobe.sink.kafka.compression", "none")
	v.SetDefault("fprobe.sink.kafka.max_attempts", 3)

	v.SetDefault("fprobe.data_dir", "/var/lib/fprobe")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults (node hostname/IP auto-detection).
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	switch cfg.Pipeline.Source.Type {
	case "file":
		if cfg.Pipeline.Source.Path == "" {
			return fmt.Errorf("pipeline.source.path is required when pipeline.source.type=file")
		}
	case "afpacket":
		if cfg.Pipeline.Source.Interface == "" {
			return fmt.Errorf("pipeline.source.interface is required when pipeline.source.type=afpacket")
		}
	default:
		return fmt.Errorf("unsupported pipeline.source.type: %s", cfg.Pipeline.Source.Type)
	}

	switch cfg.Sink.Type {
	case "console":
	case "messagebus":
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("sink.kafka.brokers is required when sink.type=messagebus")
		}
		if cfg.Sink.Kafka.Topic == "" {
			return fmt.Errorf("sink.kafka.topic is required when sink.type=messagebus")
		}
	default:
		return fmt.Errorf("unsupported sink.type: %s", cfg.Sink.Type)
	}

	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: explicit config value → auto-detect → error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set FPROBE_NODE_IP or fprobe.node.ip")
}
