package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/mg-assistant/internal/capability"
	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/devices"
	"github.com/loqalabs/mg-assistant/internal/eventstore"
	"github.com/loqalabs/mg-assistant/internal/mqtt"
	"github.com/loqalabs/mg-assistant/internal/protocol"
	"github.com/loqalabs/mg-assistant/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrStopped       = errors.New("app is not running")
	ErrUnknownDevice = errors.New("unknown device")
)

// Recognizer is the part of stt.Recognizer the app drives.
type Recognizer interface {
	Start(modelPath string, sampleRate int) error
	Stop() bool
	Running() bool
	Result() (stt.Result, bool)
	ModelPath() string
}

// Broker is the part of mqtt.Adapter the app drives.
type Broker interface {
	Connect(brokerURL string) error
	Disconnect()
	Connected() bool
	Publish(topic string, payload []byte) error
	Next() (mqtt.Event, bool)
}

type Responder interface {
	ProcessText(ctx context.Context, text string) string
	LocalOnly() bool
}

type InternetChecker interface {
	Check(ctx context.Context) bool
}

type Publisher interface {
	PublishJSON(subject string, v any) error
}

type History interface {
	Append(ctx context.Context, evt eventstore.Event) error
}

// Deps are the collaborators the app owns for its lifetime. Bus, History
// and Capabilities may be nil.
type Deps struct {
	Recognizer   Recognizer
	Broker       Broker
	Responder    Responder
	Internet     InternetChecker
	Devices      *devices.Registry
	Capabilities *capability.Registry
	Bus          Publisher
	History      History
}

// App is the foreground owner of State. Everything that mutates State runs
// on the goroutine executing Run; callers submit work through commands.
type App struct {
	cfg    config.Config
	log    *slog.Logger
	deps   Deps
	tracer trace.Tracer
	clock  func() time.Time

	state   State
	cmds    chan func(*State)
	stopped chan struct{}
}

func New(cfg config.Config, deps Deps, log *slog.Logger) *App {
	if deps.Devices == nil {
		deps.Devices = devices.New(nil)
	}
	return &App{
		cfg:     cfg,
		log:     log.With(slog.String("component", "app")),
		deps:    deps,
		tracer:  otel.Tracer("github.com/loqalabs/mg-assistant/app"),
		clock:   time.Now,
		cmds:    make(chan func(*State)),
		stopped: make(chan struct{}),
	}
}

// Run executes commands and drains the recognizer and broker queues every
// poll interval until ctx is cancelled. It must be called once.
func (a *App) Run(ctx context.Context) error {
	defer close(a.stopped)

	interval := time.Duration(a.cfg.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.log.Info("app started", slog.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case cmd := <-a.cmds:
			cmd(&a.state)
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *App) shutdown() {
	if a.deps.Recognizer != nil && a.deps.Recognizer.Running() {
		a.deps.Recognizer.Stop()
	}
	if a.deps.Broker != nil {
		a.deps.Broker.Disconnect()
	}
	a.log.Info("app stopped")
}

// do runs fn on the foreground goroutine and waits for it.
func (a *App) do(ctx context.Context, fn func(*State)) error {
	done := make(chan struct{})
	cmd := func(s *State) {
		defer close(done)
		fn(s)
	}
	select {
	case a.cmds <- cmd:
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (a *App) poll(ctx context.Context) {
	if rec := a.deps.Recognizer; rec != nil {
		for {
			res, ok := rec.Result()
			if !ok {
				break
			}
			a.applyResult(ctx, res)
		}
		a.state.RecognizerRunning = rec.Running()
	}
	if broker := a.deps.Broker; broker != nil {
		for {
			evt, ok := broker.Next()
			if !ok {
				break
			}
			a.applyEvent(ctx, evt)
		}
		a.state.MQTTConnected = broker.Connected()
	}
}

func (a *App) applyResult(ctx context.Context, res stt.Result) {
	switch res.Kind {
	case stt.ResultError:
		a.state.notify(a.clock(), LevelError, res.String())
	default:
		if strings.TrimSpace(res.Text) == "" {
			return
		}
		a.state.appendTranscript(res.Text)
		a.record(ctx, protocol.KindTranscript, "", protocol.Transcript{
			Text:      res.Text,
			ModelPath: a.deps.Recognizer.ModelPath(),
			Timestamp: a.clock().UTC(),
		})
	}
}

func (a *App) applyEvent(ctx context.Context, evt mqtt.Event) {
	switch evt.Type {
	case mqtt.EventMessage:
		a.state.Messages = append(a.state.Messages, evt.Message)
		a.record(ctx, protocol.KindBrokerMessage, evt.Message.Topic, protocol.BrokerMessage{
			Topic:      evt.Message.Topic,
			Payload:    evt.Message.Payload,
			ReceivedAt: evt.Message.ReceivedAt,
		})
	case mqtt.EventConnected:
		a.state.MQTTConnected = true
		a.state.notify(a.clock(), LevelSuccess, evt.Detail)
	case mqtt.EventConnectionLost:
		a.state.MQTTConnected = false
		a.state.notify(a.clock(), LevelWarning, evt.Detail)
	case mqtt.EventSubscribeFailed:
		a.state.notify(a.clock(), LevelWarning, evt.Detail)
	}
}

// record fans an event out to the bus and the history store. Failures are
// logged and never reach the caller.
func (a *App) record(ctx context.Context, kind, subject string, payload any) {
	_, span := a.tracer.Start(ctx, "app.record", trace.WithAttributes(attribute.String("mg.kind", kind)))
	defer span.End()

	if a.deps.Bus != nil {
		if err := a.deps.Bus.PublishJSON(protocol.SubjectFor(kind), payload); err != nil {
			span.RecordError(err)
			a.log.Warn("bus publish failed", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}
	if a.deps.History != nil {
		body, err := encode(payload)
		if err != nil {
			a.log.Warn("encode history event failed", slog.String("kind", kind), slog.String("error", err.Error()))
			return
		}
		if err := a.deps.History.Append(ctx, eventstore.Event{Kind: kind, Subject: subject, Body: body}); err != nil {
			span.RecordError(err)
			a.log.Warn("history append failed", slog.String("kind", kind), slog.String("error", err.Error()))
		}
	}
}

// StartRecognizer starts capture with modelPath, or the configured model
// when modelPath is blank. Loading the model happens on the caller's
// goroutine; only the resulting state change is serialized.
func (a *App) StartRecognizer(ctx context.Context, modelPath string) (Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "app.start_recognizer")
	defer span.End()

	if strings.TrimSpace(modelPath) == "" {
		modelPath = a.cfg.VoskModelPath
	}
	var (
		startErr       error
		alreadyRunning bool
	)
	switch rec := a.deps.Recognizer; {
	case rec == nil:
		startErr = stt.ErrEngineUnavailable
	case rec.Running():
		alreadyRunning = true
	default:
		startErr = rec.Start(modelPath, a.cfg.Recognizer.SampleRate)
	}

	snap, err := a.snapshotAfter(ctx, func(s *State) {
		now := a.clock()
		if alreadyRunning {
			s.RecognizerRunning = true
			s.notify(now, LevelInfo, "Recognizer already running.")
			return
		}
		switch {
		case startErr == nil:
			s.RecognizerRunning = true
			s.notify(now, LevelSuccess, "Offline recognizer started.")
		case errors.Is(startErr, stt.ErrEngineUnavailable):
			s.notify(now, LevelWarning, "Speech engine not available; offline recognizer disabled.")
		case errors.Is(startErr, stt.ErrModelMissing):
			s.notify(now, LevelError, fmt.Sprintf("Speech model missing at '%s'. Download a model and set 'vosk_model_path' in config.yaml.", modelPath))
		case errors.Is(startErr, stt.ErrAlreadyRunning):
			s.notify(now, LevelWarning, "Previous recognizer is still shutting down; try again shortly.")
		default:
			s.notify(now, LevelError, fmt.Sprintf("Failed to start recognizer: %v", startErr))
		}
		if startErr != nil {
			s.RecognizerRunning = false
		}
	})
	if err != nil {
		return snap, err
	}
	if startErr != nil {
		span.RecordError(startErr)
		span.SetStatus(codes.Error, startErr.Error())
	}
	return snap, startErr
}

// StopRecognizer joins the worker on the caller's goroutine, so a slow
// join never holds up the poll loop.
func (a *App) StopRecognizer(ctx context.Context) (Snapshot, error) {
	joined := true
	if a.deps.Recognizer != nil {
		joined = a.deps.Recognizer.Stop()
	}
	return a.snapshotAfter(ctx, func(s *State) {
		now := a.clock()
		if !joined {
			s.notify(now, LevelWarning, "Recognizer did not stop in time; it will exit after the current frame.")
		}
		s.RecognizerRunning = false
		s.notify(now, LevelSuccess, "Recognizer stopped.")
	})
}

// SendText answers typed input. The responder runs on the caller's
// goroutine since it may dial out; only the state update is serialized.
func (a *App) SendText(ctx context.Context, text string) (Snapshot, error) {
	if strings.TrimSpace(text) == "" {
		return a.Snapshot(ctx)
	}
	ctx, span := a.tracer.Start(ctx, "app.send_text")
	defer span.End()

	reply := a.deps.Responder.ProcessText(ctx, text)
	return a.snapshotAfter(ctx, func(s *State) {
		s.Reply = reply
		a.record(ctx, protocol.KindReply, "", protocol.Reply{
			Input:     text,
			Reply:     reply,
			Timestamp: a.clock().UTC(),
		})
	})
}

// ConnectMQTT connects to brokerURL, or the configured broker when blank.
func (a *App) ConnectMQTT(ctx context.Context, brokerURL string) (Snapshot, error) {
	ctx, span := a.tracer.Start(ctx, "app.connect_mqtt")
	defer span.End()

	if strings.TrimSpace(brokerURL) == "" {
		brokerURL = a.cfg.MQTTBroker
	}
	var connErr error
	already := a.deps.Broker.Connected()
	if !already {
		connErr = a.deps.Broker.Connect(brokerURL)
	}
	snap, err := a.snapshotAfter(ctx, func(s *State) {
		now := a.clock()
		if already {
			s.MQTTConnected = true
			s.notify(now, LevelInfo, "Already connected to MQTT broker.")
			return
		}
		if connErr != nil {
			s.MQTTConnected = false
			s.notify(now, LevelError, fmt.Sprintf("MQTT connection failed: %v", connErr))
			return
		}
		s.notify(now, LevelSuccess, "MQTT adapter started.")
	})
	if err != nil {
		return snap, err
	}
	if connErr != nil {
		span.RecordError(connErr)
		span.SetStatus(codes.Error, connErr.Error())
	}
	return snap, connErr
}

func (a *App) DisconnectMQTT(ctx context.Context) (Snapshot, error) {
	a.deps.Broker.Disconnect()
	return a.snapshotAfter(ctx, func(s *State) {
		s.MQTTConnected = false
		s.notify(a.clock(), LevelSuccess, "MQTT disconnected.")
	})
}

// ToggleDevice publishes a toggle command to the device's topic.
func (a *App) ToggleDevice(ctx context.Context, name string) (Snapshot, error) {
	dev, ok := a.deps.Devices.Lookup(name)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	payload, err := devices.TogglePayload(dev.Name)
	if err != nil {
		return Snapshot{}, err
	}

	ctx, span := a.tracer.Start(ctx, "app.toggle_device", trace.WithAttributes(attribute.String("mg.device", dev.Name)))
	defer span.End()

	var pubErr error
	if !a.deps.Broker.Connected() {
		pubErr = mqtt.ErrNotConnected
	} else {
		pubErr = a.deps.Broker.Publish(dev.Topic, payload)
	}
	snap, err := a.snapshotAfter(ctx, func(s *State) {
		now := a.clock()
		if errors.Is(pubErr, mqtt.ErrNotConnected) {
			s.notify(now, LevelWarning, "MQTT not connected; cannot send command.")
			return
		}
		if pubErr != nil {
			s.notify(now, LevelWarning, fmt.Sprintf("Publish error: %v", pubErr))
			return
		}
		s.notify(now, LevelSuccess, fmt.Sprintf("Sent toggle to %s", dev.Name))
		a.record(ctx, protocol.KindDeviceCommand, dev.Topic, protocol.DeviceCommand{
			Device:    dev.Name,
			Topic:     dev.Topic,
			Payload:   string(payload),
			Timestamp: now.UTC(),
		})
	})
	if err != nil {
		return snap, err
	}
	if pubErr != nil {
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, pubErr.Error())
	}
	return snap, pubErr
}

// Status reports capability flags and live connectivity. The internet probe
// runs on the caller's goroutine.
func (a *App) Status(ctx context.Context) (Status, error) {
	st := Status{
		AppName:   a.cfg.AppName,
		LocalOnly: a.cfg.LocalOnly,
		Devices:   a.deps.Devices.Len(),
	}
	if a.deps.Capabilities != nil {
		st.Capabilities = a.deps.Capabilities.List()
	}
	if a.deps.Internet != nil {
		st.InternetReachable = a.deps.Internet.Check(ctx)
	}
	err := a.do(ctx, func(s *State) {
		st.RecognizerRunning = s.RecognizerRunning
		st.MQTTConnected = s.MQTTConnected
	})
	return st, err
}

// Snapshot returns a copy of the state with the message log trimmed for
// display.
func (a *App) Snapshot(ctx context.Context) (Snapshot, error) {
	return a.snapshotAfter(ctx, func(*State) {})
}

func (a *App) snapshotAfter(ctx context.Context, fn func(*State)) (Snapshot, error) {
	var snap Snapshot
	err := a.do(ctx, func(s *State) {
		fn(s)
		snap = s.snapshot(a.cfg.AppName, a.cfg.LocalOnly, a.cfg.MQTT.MessageLogDisplay)
	})
	return snap, err
}
