package sink

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/image/draw"

	"github.com/slidecap/slidecap/internal/types"
)

const publishTimeout = 5 * time.Second

// SlideEvent is the msgpack payload published for each accepted slide.
// The thumbnail is a PNG so subscribers can render a preview without
// pulling the full-resolution image from object storage.
type SlideEvent struct {
	Instance   string    `msgpack:"instance"`
	Index      int       `msgpack:"index"`
	Timestamp  time.Time `msgpack:"timestamp"`
	Similarity float64   `msgpack:"similarity"`
	Width      int       `msgpack:"width"`
	Height     int       `msgpack:"height"`
	TraceID    string    `msgpack:"trace_id,omitempty"`
	Thumbnail  []byte    `msgpack:"thumbnail,omitempty"`
}

// MQTTSink publishes slide events to slidecap/slides/{instance}.
type MQTTSink struct {
	client   mqtt.Client
	instance string
	topic    string
	qos      byte

	// thumbnails can be disabled for constrained brokers
	withThumbnail bool
}

// MQTTSinkConfig configures an MQTTSink. The client is shared with the
// control plane handler so a session holds one broker connection.
type MQTTSinkConfig struct {
	Instance      string
	QoS           byte
	WithThumbnail bool
}

func NewMQTTSink(client mqtt.Client, cfg MQTTSinkConfig) *MQTTSink {
	return &MQTTSink{
		client:        client,
		instance:      cfg.Instance,
		topic:         fmt.Sprintf("slidecap/slides/%s", cfg.Instance),
		qos:           cfg.QoS,
		withThumbnail: cfg.WithThumbnail,
	}
}

// Write implements Sink.
func (m *MQTTSink) Write(ctx context.Context, slide *types.AcceptedSlide) error {
	evt := SlideEvent{
		Instance:   m.instance,
		Index:      slide.Index,
		Timestamp:  slide.Timestamp,
		Similarity: slide.Similarity,
		Width:      slide.Frame.Width,
		Height:     slide.Frame.Height,
		TraceID:    slide.TraceID,
	}

	if m.withThumbnail {
		thumb, err := encodeThumbnail(&slide.Frame)
		if err != nil {
			// A missing thumbnail should not lose the event.
			slog.Warn("thumbnail encoding failed, publishing without it",
				"index", slide.Index, "error", err)
		} else {
			evt.Thumbnail = thumb
		}
	}

	payload, err := msgpack.Marshal(&evt)
	if err != nil {
		return fmt.Errorf("failed to marshal slide event: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish of slide %d to %s timed out", slide.Index, m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish of slide %d failed: %w", slide.Index, err)
	}

	slog.Debug("slide event published", "topic", m.topic, "index", slide.Index)
	return nil
}

// Close implements Sink. The shared client is owned by the caller.
func (m *MQTTSink) Close() error { return nil }

// thumbnailWidth bounds the preview carried in slide events; the full
// image stays in the directory or object-storage sinks.
const thumbnailWidth = 320

func encodeThumbnail(frame *types.Frame) ([]byte, error) {
	img, err := bgrToRGBA(frame)
	if err != nil {
		return nil, err
	}

	if frame.Width > thumbnailWidth {
		h := frame.Height * thumbnailWidth / frame.Width
		if h < 1 {
			h = 1
		}
		small := image.NewRGBA(image.Rect(0, 0, thumbnailWidth, h))
		draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = small
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
