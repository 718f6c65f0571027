// Package config loads the slidecap configuration from YAML and applies
// environment overrides for the values that differ per deployment
// (broker address, object-storage credentials).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/slidecap/slidecap/internal/types"
)

// Config represents the complete slidecap configuration.
type Config struct {
	InstanceID string          `yaml:"instance_id" env:"SLIDECAP_INSTANCE_ID"`
	LogLevel   string          `yaml:"log_level" env:"SLIDECAP_LOG_LEVEL"`
	Source     SourceConfig    `yaml:"source"`
	Detection  DetectionConfig `yaml:"detection"`
	Output     OutputConfig    `yaml:"output"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

// SourceConfig selects and configures the frame source.
type SourceConfig struct {
	// Type is "file", "rtsp", or "mock"
	Type string `yaml:"type"`
	// Path is the video file for type "file"
	Path string `yaml:"path"`
	RTSP RTSPConfig `yaml:"rtsp"`
	// SampleIntervalMS spaces frame pulls; 0 pulls at source rate
	SampleIntervalMS int `yaml:"sample_interval_ms"`
	// FrameTimeoutS bounds a single frame pull
	FrameTimeoutS int `yaml:"frame_timeout_s"`
}

// RTSPConfig contains the live stream settings for type "rtsp".
type RTSPConfig struct {
	URL         string `yaml:"url" env:"SLIDECAP_RTSP_URL"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	QueueFrames int    `yaml:"queue_frames"`
}

// DetectionConfig contains the slide detection thresholds.
type DetectionConfig struct {
	// Metric is "ssim" (default) or "absdiff"
	Metric string `yaml:"metric"`
	// SimilarityThreshold separates "same slide" from "new candidate"
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// StabilityCount is the consecutive confirming frames required
	StabilityCount int `yaml:"stability_count"`
	// MinStableDurationMS is the minimum wall-clock stability span.
	// Omitted means 500; an explicit 0 disables the duration check.
	MinStableDurationMS *int `yaml:"min_stable_duration_ms"`
	// CandidateDrift is the score below which a candidate is replaced
	CandidateDrift float64 `yaml:"candidate_drift"`
	// FlushOnStop emits a partially confirmed candidate at end of
	// stream. Omitted means true.
	FlushOnStop *bool `yaml:"flush_on_stop"`
	// MaxDecodeFailures ends the session after this many consecutive
	// failed pulls
	MaxDecodeFailures int `yaml:"max_decode_failures"`
	// Region restricts detection to a frame sub-rectangle
	Region *types.Region `yaml:"region,omitempty"`
}

// OutputConfig configures the slide sinks.
type OutputConfig struct {
	// Dir receives slide PNGs and the run manifest
	Dir    string       `yaml:"dir"`
	Events EventsConfig `yaml:"events"`
	Minio  MinioConfig  `yaml:"minio"`
}

// EventsConfig configures MQTT slide event publishing.
type EventsConfig struct {
	Enabled   bool `yaml:"enabled"`
	Thumbnail bool `yaml:"thumbnail"`
}

// MinioConfig configures object-storage slide upload.
type MinioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" env:"SLIDECAP_MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"SLIDECAP_MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SLIDECAP_MINIO_SECRET_KEY"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// MQTTConfig contains broker settings shared by the control plane and
// the event sink.
type MQTTConfig struct {
	Enabled bool    `yaml:"enabled"`
	Broker  string  `yaml:"broker" env:"SLIDECAP_MQTT_BROKER"`
	QoS     QoSConf `yaml:"qos"`
}

// QoSConf holds the per-purpose QoS levels.
type QoSConf struct {
	Control byte `yaml:"control"`
	Events  byte `yaml:"events"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SampleInterval returns the configured pull spacing.
func (s *SourceConfig) SampleInterval() time.Duration {
	return time.Duration(s.SampleIntervalMS) * time.Millisecond
}

// FrameTimeout returns the configured pull timeout.
func (s *SourceConfig) FrameTimeout() time.Duration {
	return time.Duration(s.FrameTimeoutS) * time.Second
}

// MinStableDuration returns the configured stability span. Validate
// fills the pointer.
func (d *DetectionConfig) MinStableDuration() time.Duration {
	if d.MinStableDurationMS == nil {
		return 0
	}
	return time.Duration(*d.MinStableDurationMS) * time.Millisecond
}

// Flush reports the flush-on-stop policy. Validate fills the pointer.
func (d *DetectionConfig) Flush() bool {
	return d.FlushOnStop == nil || *d.FlushOnStop
}

// Load reads a YAML configuration file, applies environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
