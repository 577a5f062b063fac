// Package dashboard streams training progress to a live dashboard over socket.io.
package dashboard

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/tsawler/go-trainloop/training"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted by SocketIOSink.
const (
	EventEpochStart = "epoch_start"
	EventBatch      = "batch"
	EventEpochEnd   = "epoch_end"
)

// Config describes the socket.io endpoint.
type Config struct {
	URL                string // e.g. http://localhost:3000/socket.io/
	Namespace          string
	Timeout            time.Duration // how long Dial waits for the connection
	RunID              string        // attached to every event
	InsecureSkipVerify bool
}

// SocketIOSink is a training.ProgressSink that emits every progress update as
// a socket.io event. Emitting never blocks training and never fails it.
type SocketIOSink struct {
	emit       func(event string, payload map[string]any)
	disconnect func()
	runID      string
	logger     *slog.Logger
	epoch      int
}

var _ training.ProgressSink = (*SocketIOSink)(nil)

// Dial connects to the dashboard and returns a sink bound to the connection.
func Dial(ctx context.Context, config Config, logger *slog.Logger) (*SocketIOSink, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "dashboard", "url", config.URL)

	parsedURL, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if config.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	client := manager.Socket(config.Namespace, opts)

	client.Once(types.EventName("connect"), func(...any) {
		logger.Info("connected to dashboard", "sid", client.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	client.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	client.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			client.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(config.Timeout):
		client.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", config.Timeout)
	}

	sink := newSink(func(event string, payload map[string]any) {
		client.Emit(event, payload)
	}, config.RunID, logger)
	sink.disconnect = func() { client.Disconnect() }
	return sink, nil
}

func newSink(emit func(string, map[string]any), runID string, logger *slog.Logger) *SocketIOSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SocketIOSink{emit: emit, runID: runID, logger: logger}
}

func (s *SocketIOSink) StartEpoch(epoch, totalEpochs, batches int) {
	s.epoch = epoch
	s.send(EventEpochStart, map[string]any{
		"epoch":        epoch,
		"total_epochs": totalEpochs,
		"batches":      batches,
	})
}

func (s *SocketIOSink) UpdateBatch(batch int, runningLoss float64) {
	s.send(EventBatch, map[string]any{
		"epoch":        s.epoch,
		"batch":        batch,
		"running_loss": finite(runningLoss),
	})
}

func (s *SocketIOSink) FinishEpoch(epoch int, loss float64) {
	s.send(EventEpochEnd, map[string]any{
		"epoch": epoch,
		"loss":  finite(loss),
	})
}

// Close disconnects from the dashboard.
func (s *SocketIOSink) Close() {
	if s.disconnect != nil {
		s.logger.Debug("disconnecting from dashboard")
		s.disconnect()
		s.disconnect = nil
	}
}

func (s *SocketIOSink) send(event string, payload map[string]any) {
	if s.runID != "" {
		payload["run_id"] = s.runID
	}
	s.logger.Debug("emitting event", "event", event)
	s.emit(event, payload)
}

// finite maps NaN and infinities to nil since JSON cannot carry them.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
