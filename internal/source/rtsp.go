package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/slidecap/slidecap/internal/types"
)

// RTSPConfig contains live stream settings.
type RTSPConfig struct {
	URL    string
	Width  int
	Height int
	FPS    float64
	// QueueCapacity bounds the push-to-pull adapter queue
	QueueCapacity int
}

// RTSPSource captures frames from a live RTSP stream through a GStreamer
// pipeline:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter → appsink
//
// GStreamer pushes decoded frames; a bounded PushQueue adapts them to
// the pull contract so the detection loop stays sequential.
type RTSPSource struct {
	cfg   RTSPConfig
	queue *PushQueue

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pipeline *gst.Pipeline

	seq        uint64
	reconnects uint32
	retries    int
}

const (
	rtspMaxRetries    = 5
	rtspRetryDelay    = time.Second
	rtspMaxRetryDelay = 30 * time.Second
)

// NewRTSPSource creates a live stream source.
func NewRTSPSource(cfg RTSPConfig) (*RTSPSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("rtsp url is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 2
	}
	return &RTSPSource{
		cfg:   cfg,
		queue: NewPushQueue(cfg.URL, cfg.QueueCapacity),
	}, nil
}

// Dimensions implements Source. The pipeline's capsfilter scales every
// frame to the configured resolution.
func (r *RTSPSource) Dimensions() (int, int) {
	return r.cfg.Width, r.cfg.Height
}

// Live implements source.Live: the camera streams regardless of
// consumption.
func (r *RTSPSource) Live() bool {
	return true
}

// Start implements Source. The pipeline runs in its own goroutine and
// reconnects with exponential backoff until the retry budget runs out.
func (r *RTSPSource) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("rtsp source already started")
	}
	r.started = true

	gst.Init(nil)

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(runCtx)

	slog.Info("rtsp source starting",
		"url", r.cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height),
		"target_fps", r.cfg.FPS,
	)
	return nil
}

// Next implements Source, draining the adapter queue.
func (r *RTSPSource) Next(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	return r.queue.Next(ctx, timeout)
}

// Stats implements Source.
func (r *RTSPSource) Stats() types.SourceStats {
	s := r.queue.Stats()
	s.Reconnects = atomic.LoadUint32(&r.reconnects)
	return s
}

// Stop implements Source.
func (r *RTSPSource) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.queue.Close()
	slog.Info("rtsp source stopped", "url", r.cfg.URL)
	return nil
}

// run connects and streams until the context is cancelled, reconnecting
// on pipeline errors.
func (r *RTSPSource) run(ctx context.Context) {
	defer r.wg.Done()
	defer r.queue.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := r.connectAndStream(ctx)
		if err != nil {
			slog.Error("rtsp pipeline error", "error", err, "url", r.cfg.URL)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		r.retries++
		atomic.AddUint32(&r.reconnects, 1)
		if r.retries > rtspMaxRetries {
			slog.Error("rtsp max retries exceeded, giving up",
				"retries", r.retries,
				"url", r.cfg.URL,
			)
			return
		}

		delay := rtspRetryDelay * time.Duration(1<<uint(r.retries-1))
		if delay > rtspMaxRetryDelay {
			delay = rtspMaxRetryDelay
		}
		slog.Warn("reconnecting to rtsp stream", "retry", r.retries, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *RTSPSource) connectAndStream(ctx context.Context) error {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	r.pipeline = pipeline

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", r.cfg.URL)
	rtspsrc.SetProperty("protocols", 4) // TCP
	rtspsrc.SetProperty("latency", 200)

	rtph264depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return fmt.Errorf("failed to create rtph264depay: %w", err)
	}
	avdecH264, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fmt.Errorf("failed to create avdec_h264: %w", err)
	}
	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}
	videoscale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}

	// Drop frames at the source instead of pacing in Go.
	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	numerator, denominator := 1, 1
	if r.cfg.FPS < 1.0 {
		denominator = int(1.0 / r.cfg.FPS)
	} else {
		numerator = int(r.cfg.FPS)
	}
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/%d",
		r.cfg.Width, r.cfg.Height, numerator, denominator,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return r.onNewSample(sink)
		},
	})

	pipeline.AddMany(rtspsrc, rtph264depay, avdecH264, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
	gst.ElementLinkMany(rtph264depay, avdecH264, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	// rtspsrc pads appear once the stream is negotiated.
	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := rtph264depay.GetStaticPad("sink")
		if sinkPad != nil {
			srcPad.Link(sinkPad)
		}
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("rtsp end of stream", "url", r.cfg.URL)
			pipeline.SetState(gst.StateNull)
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			pipeline.SetState(gst.StateNull)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					r.retries = 0
					slog.Info("rtsp stream connected", "url", r.cfg.URL)
				}
			}
		}
	}
}

// onNewSample copies one decoded BGR frame out of GStreamer and pushes
// it into the adapter queue. A single bad sample is skipped, not fatal.
func (r *RTSPSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()
	if len(data) == 0 {
		slog.Warn("rtsp: empty buffer, skipping frame")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	seq := atomic.AddUint64(&r.seq, 1)
	r.queue.Push(types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     r.cfg.Width,
		Height:    r.cfg.Height,
		Data:      frameData,
		SourceID:  r.cfg.URL,
		TraceID:   uuid.New().String(),
	})
	return gst.FlowOK
}
