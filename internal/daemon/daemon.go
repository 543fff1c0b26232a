// Package daemon implements the fprobe daemon process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	uuid "github.com/satori/go.uuid"

	"github.com/flowprobe/fprobe/internal/config"
	"github.com/flowprobe/fprobe/internal/flowcache"
	"github.com/flowprobe/fprobe/internal/flowsink"
	"github.com/flowprobe/fprobe/internal/flowsource"
	logpkg "github.com/flowprobe/fprobe/internal/log"
	"github.com/flowprobe/fprobe/internal/metrics"
	"github.com/flowprobe/fprobe/internal/plugin"
	"github.com/flowprobe/fprobe/internal/plugins/dns"
	"github.com/flowprobe/fprobe/internal/plugins/http"
	"github.com/flowprobe/fprobe/internal/plugins/quic"
	"github.com/flowprobe/fprobe/internal/telemetry"
	"github.com/flowprobe/fprobe/internal/workers"
)

// Daemon manages the fprobe daemon process lifecycle: config load, PID
// lock, metrics server, worker pipeline, control-plane socket, and the
// signal loop. Lifecycle shape (Start/Stop/Run/Reload, PID file,
// SIGTERM/SIGINT/SIGHUP handling) is adapted from internal/daemon/daemon.go,
// with the task manager / Kafka command consumer / UDS JSON-RPC server
// replaced by a workers.Pipeline and a telemetry.ControlServer.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string

	instanceID string
	pidLock    *flock.Flock

	registry      *plugin.Registry
	pipeline      *workers.Pipeline
	metricsServer *metrics.Server
	control       *telemetry.ControlServer

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New creates a new Daemon instance, loading configuration from configPath.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		instanceID:   uuid.NewV4().String(),
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	logpkg.Get().WithFields(map[string]interface{}{
		"instance": d.instanceID,
		"hostname": d.config.Node.Hostname,
		"config":   d.configPath,
	}).Info("starting fprobe daemon")

	if err := d.acquirePIDLock(); err != nil {
		return fmt.Errorf("failed to acquire PID lock: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.registry = plugin.NewRegistry()
	d.registry.Register(quic.New())
	d.registry.Register(dns.New())
	d.registry.Register(http.New())

	source, err := buildSource(d.config.Pipeline.Source)
	if err != nil {
		return fmt.Errorf("failed to build packet source: %w", err)
	}

	sink, err := buildSink(d.config.Sink)
	if err != nil {
		return fmt.Errorf("failed to build flow sink: %w", err)
	}

	cacheCfg := cacheConfigFromGlobal(d.config.Cache)

	pipeline, err := workers.NewPipeline(
		d.config.Pipeline.Partitions,
		source,
		cacheCfg,
		d.registry,
		sink,
		logpkg.Get(),
		d.config.Pipeline.RingCapacity,
	)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	d.pipeline = pipeline

	go func() {
		if err := d.pipeline.Run(d.ctx); err != nil && d.ctx.Err() == nil {
			logpkg.Get().WithError(err).Error("pipeline stopped with error")
			d.TriggerShutdown()
		}
	}()

	registry := telemetry.NewRegistry()
	d.control = telemetry.NewControlServer(d.config.Control.Socket, registry, logpkg.Get())
	go func() {
		if err := d.control.Start(d.ctx); err != nil {
			logpkg.Get().WithError(err).Error("control-plane socket failed")
		}
	}()

	if err := config.Watch(d.configPath, d.onConfigFileChanged); err != nil {
		logpkg.Get().WithError(err).Warn("config file watch disabled, reload still available via SIGHUP")
	}

	logpkg.Get().Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	logpkg.Get().Info("initiating graceful shutdown")

	if d.pipeline != nil {
		d.pipeline.Shutdown()
	}

	if d.control != nil {
		if err := d.control.Stop(); err != nil {
			logpkg.Get().WithError(err).Error("error stopping control-plane socket")
		}
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logpkg.Get().WithError(err).Error("error stopping metrics server")
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	d.releasePIDLock()

	logpkg.Get().Info("daemon stopped gracefully")
	logpkg.Flush()
}

// Run runs the daemon main loop, blocking until shutdown is triggered by
// an OS signal or an internal error.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logpkg.Get().Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logpkg.Get().WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				logpkg.Get().Info("received reload signal")
				if err := d.Reload(); err != nil {
					logpkg.Get().WithError(err).Error("failed to reload config")
				} else {
					logpkg.Get().Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			logpkg.Get().Info("shutdown triggered internally")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			logpkg.Get().WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload reloads the global configuration. Hot-reloadable: log level and
// format. Everything that shapes the running pipeline (partition count,
// cache sizing, source/sink selection) requires a restart, since the
// flow cache has no defined semantics for resizing in place.
func (d *Daemon) Reload() error {
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	oldLevel, oldFormat := d.config.Log.Level, d.config.Log.Format
	d.config = newConfig

	if err := d.initLogging(); err != nil {
		logpkg.Get().WithError(err).Error("failed to reinitialize logging")
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		logpkg.Get().Info("log configuration hot-reloaded")
	}

	return nil
}

// onConfigFileChanged is the config.Watch callback: it reloads like a
// SIGHUP would, so editing the file on disk has the same effect as sending
// the signal.
func (d *Daemon) onConfigFileChanged() {
	logpkg.Get().Info("config file changed on disk, reloading")
	if err := d.Reload(); err != nil {
		logpkg.Get().WithError(err).Error("failed to reload config after file change")
	}
}

// TriggerShutdown triggers graceful shutdown from an internal caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	return logpkg.Init(d.config.Log)
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		logpkg.Get().Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	logpkg.Get().WithFields(map[string]interface{}{
		"addr": d.config.Metrics.Listen,
		"path": d.config.Metrics.Path,
	}).Info("metrics server started")
	return nil
}

// acquirePIDLock takes an exclusive advisory lock on the PID file, closing
// the double-start race a bare os.OpenFile PID write never actually
// prevents.
func (d *Daemon) acquirePIDLock() error {
	if d.config.Control.PIDFile == "" {
		return nil
	}

	lock := flock.New(d.config.Control.PIDFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock PID file %s: %w", d.config.Control.PIDFile, err)
	}
	if !locked {
		return fmt.Errorf("another fprobe instance already holds %s", d.config.Control.PIDFile)
	}
	d.pidLock = lock

	pid := fmt.Sprintf("%d\n", os.Getpid())
	if _, err := lock.File().WriteAt([]byte(pid), 0); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (d *Daemon) releasePIDLock() {
	if d.pidLock == nil {
		return
	}
	path := d.pidLock.Path()
	if err := d.pidLock.Unlock(); err != nil {
		logpkg.Get().WithError(err).Error("error releasing PID lock")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logpkg.Get().WithError(err).Error("error removing PID file")
	}
}

func buildSource(cfg config.SourceConfig) (flowsource.Source, error) {
	switch cfg.Type {
	case "file":
		return flowsource.NewFileSource(cfg.Path), nil
	case "afpacket":
		return flowsource.NewAfPacketSource(flowsource.AfPacketConfig{
			Device:       cfg.Interface,
			SnapLen:      cfg.SnapLen,
			BufferSizeMB: cfg.BufferSizeMB,
			TimeoutMs:    cfg.TimeoutMs,
			FanoutID:     cfg.FanoutID,
			BPFFilter:    cfg.BPFFilter,
		})
	default:
		return nil, fmt.Errorf("unsupported source type %q", cfg.Type)
	}
}

func buildSink(cfg config.SinkConfig) (flowsink.Sink, error) {
	switch cfg.Type {
	case "console", "":
		return flowsink.NewConsoleSink(os.Stdout, flowsink.JSONFormatter{}), nil
	case "messagebus":
		pub, err := flowsink.NewKafkaPublisher(flowsink.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  cfg.Kafka.Compression,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build kafka publisher: %w", err)
		}
		return flowsink.NewMessageBusSink(pub, flowsink.JSONFormatter{}, uint(cfg.Attempts)), nil
	default:
		return nil, fmt.Errorf("unsupported sink type %q", cfg.Type)
	}
}

func cacheConfigFromGlobal(cfg config.CacheConfig) flowcache.Config {
	active := cfg.Active
	if active <= 0 {
		active = flowcache.DefaultActiveTimeout
	}
	inactive := cfg.Inactive
	if inactive <= 0 {
		inactive = flowcache.DefaultInactiveTimeout
	}

	return flowcache.Config{
		SizeExponent: uint(cfg.SizeExponent),
		LineExponent: uint(cfg.LineExponent),
		Active:       active,
		Inactive:     inactive,
		SplitBiflow:  cfg.SplitBiflow,
		FragCache:    cfg.FragEnable,
		FragSize:     cfg.FragSize,
		FragTimeout:  cfg.FragTimeout,
	}
}
