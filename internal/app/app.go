// Package app wires the configured source, metric, sinks, control plane
// and metrics endpoint into one runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/slidecap/slidecap/internal/config"
	"github.com/slidecap/slidecap/internal/control"
	"github.com/slidecap/slidecap/internal/detector"
	"github.com/slidecap/slidecap/internal/metrics"
	"github.com/slidecap/slidecap/internal/similarity"
	"github.com/slidecap/slidecap/internal/sink"
	"github.com/slidecap/slidecap/internal/source"
	"github.com/slidecap/slidecap/internal/stability"
)

// App is one configured slidecap service instance.
type App struct {
	cfg     *config.Config
	src     source.Source
	out     sink.Sink
	session *detector.Session

	mqttClient mqtt.Client
	handler    *control.Handler
	metricsSrv *metrics.Server
}

// New builds the service from a configuration file. Everything is
// validated here; Run only pulls frames.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}

	if a.src, err = buildSource(cfg); err != nil {
		return nil, err
	}

	mode, err := similarity.ParseMode(cfg.Detection.Metric)
	if err != nil {
		return nil, err
	}
	metric := similarity.New(mode)

	if cfg.MQTT.Enabled {
		a.mqttClient, err = control.Connect(cfg.MQTT.Broker, cfg.InstanceID)
		if err != nil {
			return nil, err
		}
	}

	if a.out, err = buildSinks(ctx, cfg, a.mqttClient); err != nil {
		return nil, err
	}

	a.session, err = detector.NewSession(a.src, metric, a.out, detector.Options{
		Stability: stability.Config{
			SimilarityThreshold: cfg.Detection.SimilarityThreshold,
			StabilityCount:      cfg.Detection.StabilityCount,
			MinStableDuration:   cfg.Detection.MinStableDuration(),
			CandidateDrift:      cfg.Detection.CandidateDrift,
			FlushOnStop:         cfg.Detection.Flush(),
		},
		Region:            cfg.Detection.Region,
		SampleInterval:    cfg.Source.SampleInterval(),
		FrameTimeout:      cfg.Source.FrameTimeout(),
		MaxDecodeFailures: cfg.Detection.MaxDecodeFailures,
	})
	if err != nil {
		return nil, err
	}

	if a.mqttClient != nil {
		a.handler = control.NewHandler(a.mqttClient, cfg.InstanceID, cfg.MQTT.QoS.Control, control.Callbacks{
			OnGetStatus: a.status,
			OnPause:     func() error { a.session.Pause(); return nil },
			OnResume:    func() error { a.session.Resume(); return nil },
			OnStop:      func() error { a.session.Stop(); return nil },
		})
	}

	if cfg.Metrics.Enabled {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Addr)
	}

	return a, nil
}

func buildSource(cfg *config.Config) (source.Source, error) {
	switch cfg.Source.Type {
	case "file":
		return source.NewVideoFileSource(cfg.Source.Path), nil
	case "rtsp":
		return source.NewRTSPSource(source.RTSPConfig{
			URL:           cfg.Source.RTSP.URL,
			Width:         cfg.Source.RTSP.Width,
			Height:        cfg.Source.RTSP.Height,
			FPS:           float64(cfg.Source.RTSP.FPS),
			QueueCapacity: cfg.Source.RTSP.QueueFrames,
		})
	case "mock":
		return source.NewSyntheticSource(640, 480, []byte{40, 120, 200}, 30, 50*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

func buildSinks(ctx context.Context, cfg *config.Config, client mqtt.Client) (sink.Sink, error) {
	dir, err := sink.NewDirSink(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	sinks := []sink.Sink{dir}

	if cfg.Output.Events.Enabled {
		sinks = append(sinks, sink.NewMQTTSink(client, sink.MQTTSinkConfig{
			Instance:      cfg.InstanceID,
			QoS:           cfg.MQTT.QoS.Events,
			WithThumbnail: cfg.Output.Events.Thumbnail,
		}))
	}

	if cfg.Output.Minio.Enabled {
		ms, err := sink.NewMinioSink(ctx, sink.MinioConfig{
			Endpoint:  cfg.Output.Minio.Endpoint,
			AccessKey: cfg.Output.Minio.AccessKey,
			SecretKey: cfg.Output.Minio.SecretKey,
			UseSSL:    cfg.Output.Minio.UseSSL,
			Bucket:    cfg.Output.Minio.Bucket,
			Prefix:    cfg.InstanceID,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ms)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.NewMulti(sinks...), nil
}

func (a *App) status() map[string]interface{} {
	stats := a.session.Stats()
	srcStats := a.src.Stats()
	return map[string]interface{}{
		"instance_id":      a.cfg.InstanceID,
		"state":            stats.State,
		"frames_pulled":    stats.FramesPulled,
		"frames_dropped":   stats.FramesDropped,
		"frames_skipped":   stats.FramesSkipped,
		"slides_emitted":   stats.SlidesEmitted,
		"candidate_resets": stats.CandidateResets,
		"started_at":       stats.StartedAt,
		"source_id":        srcStats.SourceID,
		"source_connected": srcStats.IsConnected,
	}
}

// Run starts the auxiliary servers and drives the detection session to
// completion.
func (a *App) Run(ctx context.Context) error {
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}
	if a.handler != nil {
		if err := a.handler.Start(ctx); err != nil {
			return err
		}
	}

	return a.session.Run(ctx)
}

// Shutdown stops the session and releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	a.session.Stop()

	if a.handler != nil {
		if err := a.handler.Stop(); err != nil {
			slog.Warn("control plane stop failed", "error", err)
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := a.out.Close(); err != nil {
		slog.Warn("sink close failed", "error", err)
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect(1000)
	}
	return nil
}
