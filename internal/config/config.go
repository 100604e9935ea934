package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"ewsreplay/internal/model"
)

type Config struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Playback  PlaybackConfig `json:"playback" yaml:"playback"`
	Charts    []ChartConfig  `json:"charts" yaml:"charts"`
	Bus       BusConfig      `json:"bus" yaml:"bus"`
	Ingest    IngestConfig   `json:"ingest" yaml:"ingest"`
	Sink      SinkConfig     `json:"sink" yaml:"sink"`
	API       APIConfig      `json:"api" yaml:"api"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig  `json:"metrics" yaml:"metrics"`
	Events    EventsConfig   `json:"events" yaml:"events"`
}

type PlaybackConfig struct {
	DefaultSpeed time.Duration `json:"default_speed" yaml:"default_speed"`
	MinSpeed     time.Duration `json:"min_speed" yaml:"min_speed"`
	MaxSpeed     time.Duration `json:"max_speed" yaml:"max_speed"`
	Autostart    bool          `json:"autostart" yaml:"autostart"`
}

// ChartConfig describes one chart of the replay grid.
type ChartConfig struct {
	ID                 string        `json:"id" yaml:"id"`
	Title              string        `json:"title" yaml:"title"`
	Field              string        `json:"field" yaml:"field"`
	Mode               string        `json:"mode" yaml:"mode"`
	Speed              time.Duration `json:"speed" yaml:"speed"`
	Notify             bool          `json:"notify" yaml:"notify"`
	model.ChartOptions `yaml:",inline"`
}

type BusConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

type IngestConfig struct {
	File          FileConfig    `json:"file" yaml:"file"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type FileConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Path         string        `json:"path" yaml:"path"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type SinkConfig struct {
	Kafka KafkaSinkConfig `json:"kafka" yaml:"kafka"`
}

type KafkaSinkConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
}

type APIConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Addr           string        `json:"addr" yaml:"addr"`
	StreamInterval time.Duration `json:"stream_interval" yaml:"stream_interval"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int  `json:"store_limit" yaml:"store_limit"`
	Prometheus bool `json:"prometheus" yaml:"prometheus"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	defaultSpeed = 30 * time.Millisecond
	minSpeed     = 5 * time.Millisecond
	maxSpeed     = 100 * time.Millisecond
	flowPackets  = "Flow Packets/s"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Playback: PlaybackConfig{
			DefaultSpeed: defaultSpeed,
			MinSpeed:     minSpeed,
			MaxSpeed:     maxSpeed,
			Autostart:    true,
		},
		Charts:  DefaultCharts(),
		Bus:     BusConfig{SubscriberBuffer: 256},
		API:     APIConfig{Enabled: true, Addr: ":8081", StreamInterval: 100 * time.Millisecond},
		Ingest:  IngestConfig{ChannelBuffer: 16, DedupeWindow: time.Minute},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:ewsreplay.db?_pragma=busy_timeout(5000)"},
		Sink:    SinkConfig{Kafka: KafkaSinkConfig{Enabled: false, BatchTimeout: 50 * time.Millisecond}},
		Metrics: MetricsConfig{StoreLimit: 1000, Prometheus: true},
		Events:  EventsConfig{StoreLimit: 1000},
	}
}

// DefaultCharts is the standard replay grid. Only the flow-with-ews chart
// notifies, so a single session raises each alert once.
func DefaultCharts() []ChartConfig {
	withAttack := model.ChartOptions{ShowAttackRegion: true}
	withEWS := model.ChartOptions{ShowEWS: true}
	both := model.ChartOptions{ShowEWS: true, ShowAttackRegion: true}
	level := func(n int) model.ChartOptions {
		return model.ChartOptions{ShowEWS: true, ShowAttackRegion: true, AlertLevel: n}
	}
	return []ChartConfig{
		{ID: "early-warnings", Title: "Flow Packets/s vs Seconds with Early Warnings", Field: flowPackets, Mode: "early-warnings", ChartOptions: withEWS},
		{ID: "benign-attack", Title: "Benign vs Attack Traffic", Field: flowPackets, Mode: "benign-attack"},
		{ID: "ews-confusion-matrix", Title: "EWS Confusion Matrix", Field: flowPackets, Mode: "confusion-matrix", ChartOptions: withEWS},
		{ID: "peak-region", Title: "Test Data with Peak Region and Attack Start", Field: flowPackets, Mode: "peak-region", ChartOptions: withAttack},
		{ID: "flow-packets", Title: "T(t) - Flow Packets/s vs Seconds", Field: flowPackets, Mode: "standard", ChartOptions: withAttack},
		{ID: "flow-bytes", Title: "Flow Bytes/s vs Seconds", Field: "Flow Bytes/s", Mode: "standard", ChartOptions: withAttack},
		{ID: "dp-dt", Title: "dp/dt vs Seconds", Field: "dp/dt", Mode: "derivative", ChartOptions: withAttack},
		{ID: "db-dt", Title: "db/dt vs Seconds", Field: "db/dt", Mode: "derivative", ChartOptions: withAttack},
		{ID: "d2p-dt2", Title: "d2p/dt2 vs Seconds", Field: "d2p/dt2", Mode: "derivative", ChartOptions: withAttack},
		{ID: "d2b-dt2", Title: "d2b/dt2 vs Seconds", Field: "d2b/dt2", Mode: "derivative", ChartOptions: withAttack},
		{ID: "alert-level-1", Title: "Level 1 Alerts - Flow Packets/s", Field: flowPackets, Mode: "alert-levels-separately", ChartOptions: level(1)},
		{ID: "alert-level-2", Title: "Level 2 Alerts - Flow Packets/s", Field: flowPackets, Mode: "alert-levels-separately", ChartOptions: level(2)},
		{ID: "alert-level-3", Title: "Level 3 Alerts - Flow Packets/s", Field: flowPackets, Mode: "alert-levels-separately", ChartOptions: level(3)},
		{ID: "alert-level-4", Title: "Level 4 Alerts - Flow Packets/s", Field: flowPackets, Mode: "alert-levels-separately", ChartOptions: level(4)},
		{ID: "emergency-alerts", Title: "Emergency Alerts", Field: flowPackets, Mode: "emergency-alerts", ChartOptions: withEWS},
		{ID: "all-alerts", Title: "Flow Packets per Second with EWS Alerts", Field: flowPackets, Mode: "alerts", ChartOptions: both},
		{ID: "flow-with-ews", Title: "Test- Flow Packets/s with Attack & EWS", Field: flowPackets, Mode: "flow-with-ews", Notify: true, ChartOptions: both},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Playback.MinSpeed <= 0 {
		cfg.Playback.MinSpeed = minSpeed
	}
	if cfg.Playback.MaxSpeed <= 0 {
		cfg.Playback.MaxSpeed = maxSpeed
	}
	if cfg.Playback.DefaultSpeed <= 0 {
		cfg.Playback.DefaultSpeed = defaultSpeed
	}
	if len(cfg.Charts) == 0 {
		cfg.Charts = DefaultCharts()
	}
	for i := range cfg.Charts {
		if cfg.Charts[i].Mode == "" {
			cfg.Charts[i].Mode = string(model.ModeStandard)
		}
		if cfg.Charts[i].Field == "" {
			cfg.Charts[i].Field = flowPackets
		}
	}
	if cfg.Bus.SubscriberBuffer <= 0 {
		cfg.Bus.SubscriberBuffer = 256
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 16
	}
	if cfg.Ingest.File.PollInterval <= 0 {
		cfg.Ingest.File.PollInterval = time.Second
	}
	if cfg.API.StreamInterval <= 0 {
		cfg.API.StreamInterval = 100 * time.Millisecond
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 1000
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Playback.MinSpeed > cfg.Playback.MaxSpeed {
		return fmt.Errorf("playback.min_speed %s exceeds playback.max_speed %s", cfg.Playback.MinSpeed, cfg.Playback.MaxSpeed)
	}
	seen := make(map[string]struct{}, len(cfg.Charts))
	for _, ch := range cfg.Charts {
		if ch.ID == "" {
			return errors.New("charts: id required")
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("charts: duplicate id %q", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		mode, err := model.ParseChartMode(ch.Mode)
		if err != nil {
			return fmt.Errorf("charts.%s: %w", ch.ID, err)
		}
		if mode == model.ModeAlertLevelsSeparately && (ch.AlertLevel < 1 || ch.AlertLevel > 4) {
			return fmt.Errorf("charts.%s: alert_level must be 1..4", ch.ID)
		}
	}
	if cfg.Ingest.File.Enabled && cfg.Ingest.File.Path == "" {
		return errors.New("ingest.file.path required when ingest.file.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Sink.Kafka.Enabled {
		if len(cfg.Sink.Kafka.Brokers) == 0 || cfg.Sink.Kafka.Topic == "" {
			return errors.New("sink.kafka requires brokers, topic")
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves cfg without a backing file; Reload and Watch are no-ops.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
