// Package control implements the MQTT control plane. Commands arrive as
// JSON on slidecap/control/{instance}; every command is acknowledged on
// slidecap/status/{instance}.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command represents a control plane command.
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response.
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Callbacks contains the session operations a command can trigger.
type Callbacks struct {
	OnGetStatus func() map[string]interface{}
	OnPause     func() error
	OnResume    func() error
	OnStop      func() error
}

// Handler handles control plane commands.
type Handler struct {
	client    mqtt.Client
	instance  string
	qos       byte
	commands  chan Command
	callbacks Callbacks

	mu     sync.Mutex
	closed bool
}

// NewHandler creates a control plane handler for one session instance.
func NewHandler(client mqtt.Client, instance string, qos byte, callbacks Callbacks) *Handler {
	return &Handler{
		client:    client,
		instance:  instance,
		qos:       qos,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

func (h *Handler) controlTopic() string {
	return fmt.Sprintf("slidecap/control/%s", h.instance)
}

func (h *Handler) statusTopic() string {
	return fmt.Sprintf("slidecap/status/%s", h.instance)
}

// Start subscribes to the control topic and begins processing commands.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.controlTopic()
	slog.Info("subscribing to control plane", "topic", topic, "qos", h.qos)

	token := h.client.Subscribe(topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing. Idempotent.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.controlTopic())
		token.Wait()
	}

	// A delivery racing the unsubscribe may still invoke messageHandler;
	// the closed flag keeps it off the closed channel.
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.commands)
	}
	h.mu.Unlock()

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received.
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		slog.Warn("handler stopped, dropping command", "command", cmd.Command)
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "pause":
		if err := h.invoke(h.callbacks.OnPause, "pause"); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"detection_active": false}
		}

	case "resume":
		if err := h.invoke(h.callbacks.OnResume, "resume"); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"detection_active": true}
		}

	case "stop":
		if h.callbacks.OnStop != nil {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"stop_initiated": true}
			// Acknowledge before the session tears the connection down.
			h.sendResponse(resp)
			go func() {
				time.Sleep(500 * time.Millisecond)
				if err := h.callbacks.OnStop(); err != nil {
					slog.Error("stop callback failed", "error", err)
				}
			}()
			return
		}
		resp.Status = "error"
		resp.Error = "stop not implemented"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) invoke(fn func() error, name string) error {
	if fn == nil {
		return fmt.Errorf("%s not implemented", name)
	}
	return fn()
}

func (h *Handler) sendResponse(resp Response) {
	if h.client == nil {
		return
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.statusTopic(), h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
	}
}
