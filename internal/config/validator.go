package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults for optional
// fields. Threshold semantics are validated again by the session; here
// we only reject values that can never be valid.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.Source.Type {
	case "file":
		if cfg.Source.Path == "" {
			return fmt.Errorf("source.path is required for type 'file'")
		}
	case "rtsp":
		if cfg.Source.RTSP.URL == "" {
			return fmt.Errorf("source.rtsp.url is required for type 'rtsp'")
		}
		if cfg.Source.RTSP.Width <= 0 {
			cfg.Source.RTSP.Width = 1280
		}
		if cfg.Source.RTSP.Height <= 0 {
			cfg.Source.RTSP.Height = 720
		}
		if cfg.Source.RTSP.FPS <= 0 {
			cfg.Source.RTSP.FPS = 5
		}
		if cfg.Source.RTSP.QueueFrames <= 0 {
			cfg.Source.RTSP.QueueFrames = 30
		}
	case "mock":
	default:
		return fmt.Errorf("source.type must be 'file', 'rtsp', or 'mock', got %q", cfg.Source.Type)
	}

	if cfg.Source.SampleIntervalMS < 0 {
		return fmt.Errorf("source.sample_interval_ms must be >= 0")
	}
	if cfg.Source.FrameTimeoutS <= 0 {
		cfg.Source.FrameTimeoutS = 5
	}

	d := &cfg.Detection
	if d.SimilarityThreshold == 0 {
		d.SimilarityThreshold = 0.95
	}
	if d.SimilarityThreshold < 0 || d.SimilarityThreshold > 1 {
		return fmt.Errorf("detection.similarity_threshold must be in (0,1]")
	}
	if d.StabilityCount <= 0 {
		d.StabilityCount = 3
	}
	if d.MinStableDurationMS == nil {
		def := 500
		d.MinStableDurationMS = &def
	}
	if *d.MinStableDurationMS < 0 {
		return fmt.Errorf("detection.min_stable_duration_ms must be >= 0")
	}
	if d.CandidateDrift == 0 {
		d.CandidateDrift = 0.90
	}
	if d.CandidateDrift < 0 || d.CandidateDrift > 1 {
		return fmt.Errorf("detection.candidate_drift must be in (0,1]")
	}
	if d.FlushOnStop == nil {
		def := true
		d.FlushOnStop = &def
	}
	if d.MaxDecodeFailures <= 0 {
		d.MaxDecodeFailures = 3
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "slides"
	}
	if cfg.Output.Minio.Enabled {
		if cfg.Output.Minio.Endpoint == "" {
			return fmt.Errorf("output.minio.endpoint is required when minio is enabled")
		}
		if cfg.Output.Minio.Bucket == "" {
			cfg.Output.Minio.Bucket = "slidecap"
		}
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.Output.Events.Enabled && !cfg.MQTT.Enabled {
		return fmt.Errorf("output.events requires mqtt to be enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error")
	}

	return nil
}
