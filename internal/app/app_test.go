package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/devices"
	"github.com/loqalabs/mg-assistant/internal/eventstore"
	"github.com/loqalabs/mg-assistant/internal/mqtt"
	"github.com/loqalabs/mg-assistant/internal/protocol"
	"github.com/loqalabs/mg-assistant/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeRecognizer struct {
	mu       sync.Mutex
	running  bool
	results  []stt.Result
	startErr error
	starts   []string
}

func (f *fakeRecognizer) Start(modelPath string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, modelPath)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeRecognizer) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return true
}

func (f *fakeRecognizer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeRecognizer) ModelPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.starts) == 0 {
		return ""
	}
	return f.starts[len(f.starts)-1]
}

func (f *fakeRecognizer) Result() (stt.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return stt.Result{}, false
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r, true
}

func (f *fakeRecognizer) push(r stt.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
}

type published struct {
	topic   string
	payload string
}

type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	events    []mqtt.Event
	published []published
	urls      []string
	// gate, when set, holds Connect until closed.
	gate chan struct{}
}

func (f *fakeBroker) Connect(url string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return nil
}

func (f *fakeBroker) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeBroker) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, published{topic, string(payload)})
	return nil
}

func (f *fakeBroker) Next() (mqtt.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return mqtt.Event{}, false
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, true
}

func (f *fakeBroker) push(e mqtt.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Type == mqtt.EventConnected {
		f.connected = true
	}
	f.events = append(f.events, e)
}

type fakeResponder struct{}

func (fakeResponder) ProcessText(_ context.Context, text string) string {
	return "Offline response: " + text
}

func (fakeResponder) LocalOnly() bool { return true }

type fakeHistory struct {
	mu     sync.Mutex
	events []eventstore.Event
}

func (f *fakeHistory) Append(_ context.Context, evt eventstore.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeHistory) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeBus) PublishJSON(subject string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

type harness struct {
	app     *App
	rec     *fakeRecognizer
	broker  *fakeBroker
	history *fakeHistory
	bus     *fakeBus
}

func startApp(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.PollIntervalMS = 5
	cfg.VoskModelPath = "/models/en"

	h := &harness{
		rec:     &fakeRecognizer{},
		broker:  &fakeBroker{},
		history: &fakeHistory{},
		bus:     &fakeBus{},
	}
	h.app = New(cfg, Deps{
		Recognizer: h.rec,
		Broker:     h.broker,
		Responder:  fakeResponder{},
		Devices:    devices.New([]devices.Device{{Name: "Lamp", Type: "light", Topic: "home/devices/lamp"}}),
		Bus:        h.bus,
		History:    h.history,
	}, newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.app.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func waitSnapshot(t *testing.T, a *App, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := a.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastNotice(s Snapshot) Notice {
	if len(s.Notices) == 0 {
		return Notice{}
	}
	return s.Notices[len(s.Notices)-1]
}

func TestRecognizedTextJoinsTranscript(t *testing.T) {
	h := startApp(t)
	h.rec.push(stt.Result{Kind: stt.ResultText, Text: "turn on"})
	h.rec.push(stt.Result{Kind: stt.ResultText, Text: ""})
	h.rec.push(stt.Result{Kind: stt.ResultText, Text: "the lamp"})

	snap := waitSnapshot(t, h.app, func(s Snapshot) bool { return s.Transcript == "turn on the lamp" })
	if snap.Transcript != "turn on the lamp" {
		t.Fatalf("unexpected transcript %q", snap.Transcript)
	}
	kinds := h.history.kinds()
	if len(kinds) != 2 || kinds[0] != protocol.KindTranscript {
		t.Fatalf("expected two transcript events, got %v", kinds)
	}
}

func TestRecognizerErrorBecomesNotice(t *testing.T) {
	h := startApp(t)
	h.rec.push(stt.Result{Kind: stt.ResultError, Text: "audio thread error: device gone"})

	snap := waitSnapshot(t, h.app, func(s Snapshot) bool { return len(s.Notices) > 0 })
	n := lastNotice(snap)
	if n.Level != LevelError || n.Text != "[ERROR] audio thread error: device gone" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if snap.Transcript != "" {
		t.Fatalf("errors must not reach the transcript, got %q", snap.Transcript)
	}
}

func TestMessageLogTrimmedForDisplay(t *testing.T) {
	h := startApp(t)
	h.broker.push(mqtt.Event{Type: mqtt.EventConnected, Detail: "Connected to MQTT Broker"})
	for i := 0; i < 25; i++ {
		h.broker.push(mqtt.Event{Type: mqtt.EventMessage, Message: mqtt.Message{Topic: fmt.Sprintf("home/devices/%d", i), Payload: "on"}})
	}

	snap := waitSnapshot(t, h.app, func(s Snapshot) bool { return s.MessageCount == 25 })
	if len(snap.Messages) != 20 {
		t.Fatalf("expected 20 displayed messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Topic != "home/devices/5" || snap.Messages[19].Topic != "home/devices/24" {
		t.Fatalf("expected the newest 20 messages, got %s..%s", snap.Messages[0].Topic, snap.Messages[19].Topic)
	}
	if !snap.MQTTConnected {
		t.Fatal("expected connected after connected event")
	}
	if snap.Notices[0].Text != "Connected to MQTT Broker" || snap.Notices[0].Level != LevelSuccess {
		t.Fatalf("unexpected notice %+v", snap.Notices[0])
	}
}

func TestStartRecognizer(t *testing.T) {
	h := startApp(t)
	ctx := context.Background()

	snap, err := h.app.StartRecognizer(ctx, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !snap.RecognizerRunning || lastNotice(snap).Text != "Offline recognizer started." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if h.rec.starts[0] != "/models/en" {
		t.Fatalf("blank path should use configured model, got %q", h.rec.starts[0])
	}

	snap, err = h.app.StartRecognizer(ctx, "/other")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if n := lastNotice(snap); n.Level != LevelInfo || n.Text != "Recognizer already running." {
		t.Fatalf("unexpected notice %+v", n)
	}
	if len(h.rec.starts) != 1 {
		t.Fatalf("recognizer started twice")
	}

	snap, err = h.app.StopRecognizer(ctx)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if snap.RecognizerRunning || lastNotice(snap).Text != "Recognizer stopped." {
		t.Fatalf("unexpected snapshot after stop %+v", snap)
	}
}

func TestStartRecognizerMissingModel(t *testing.T) {
	h := startApp(t)
	h.rec.startErr = fmt.Errorf("%w: /nope", stt.ErrModelMissing)

	snap, err := h.app.StartRecognizer(context.Background(), "/nope")
	if !errors.Is(err, stt.ErrModelMissing) {
		t.Fatalf("expected ErrModelMissing, got %v", err)
	}
	n := lastNotice(snap)
	if n.Level != LevelError || !strings.Contains(n.Text, "/nope") {
		t.Fatalf("unexpected notice %+v", n)
	}
	if snap.RecognizerRunning {
		t.Fatal("recognizer must not be running")
	}
}

func TestSendText(t *testing.T) {
	h := startApp(t)
	ctx := context.Background()

	snap, err := h.app.SendText(ctx, "   ")
	if err != nil || snap.Reply != "" {
		t.Fatalf("blank input should be ignored, got %+v %v", snap, err)
	}

	snap, err = h.app.SendText(ctx, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if snap.Reply != "Offline response: hello" {
		t.Fatalf("unexpected reply %q", snap.Reply)
	}
	if kinds := h.history.kinds(); len(kinds) != 1 || kinds[0] != protocol.KindReply {
		t.Fatalf("expected reply event, got %v", kinds)
	}
	if len(h.bus.subjects) != 1 || h.bus.subjects[0] != protocol.SubjectReply {
		t.Fatalf("expected reply on bus, got %v", h.bus.subjects)
	}
}

func TestToggleDevice(t *testing.T) {
	h := startApp(t)
	ctx := context.Background()

	snap, err := h.app.ToggleDevice(ctx, "Lamp")
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if n := lastNotice(snap); n.Level != LevelWarning || n.Text != "MQTT not connected; cannot send command." {
		t.Fatalf("unexpected notice %+v", n)
	}

	if _, err := h.app.ToggleDevice(ctx, "Fan"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}

	h.broker.push(mqtt.Event{Type: mqtt.EventConnected, Detail: "Connected to MQTT Broker"})
	waitSnapshot(t, h.app, func(s Snapshot) bool { return s.MQTTConnected })

	snap, err = h.app.ToggleDevice(ctx, "Lamp")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if n := lastNotice(snap); n.Text != "Sent toggle to Lamp" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if len(h.broker.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(h.broker.published))
	}
	p := h.broker.published[0]
	if p.topic != "home/devices/lamp" || p.payload != `{"cmd":"toggle","device":"Lamp"}` {
		t.Fatalf("unexpected publish %+v", p)
	}
}

func TestConnectAndDisconnectMQTT(t *testing.T) {
	h := startApp(t)
	ctx := context.Background()

	snap, err := h.app.ConnectMQTT(ctx, "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.broker.urls[0] != "mqtt://localhost:1883" {
		t.Fatalf("blank url should use configured broker, got %q", h.broker.urls[0])
	}
	if lastNotice(snap).Text != "MQTT adapter started." {
		t.Fatalf("unexpected notice %+v", lastNotice(snap))
	}

	h.broker.push(mqtt.Event{Type: mqtt.EventConnected, Detail: "Connected to MQTT Broker"})
	waitSnapshot(t, h.app, func(s Snapshot) bool { return s.MQTTConnected })

	snap, err = h.app.ConnectMQTT(ctx, "")
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if n := lastNotice(snap); n.Level != LevelInfo || n.Text != "Already connected to MQTT broker." {
		t.Fatalf("unexpected notice %+v", n)
	}

	snap, err = h.app.DisconnectMQTT(ctx)
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if snap.MQTTConnected || lastNotice(snap).Text != "MQTT disconnected." {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSlowConnectDoesNotStallForeground(t *testing.T) {
	h := startApp(t)
	h.broker.gate = make(chan struct{})

	connected := make(chan error, 1)
	go func() {
		_, err := h.app.ConnectMQTT(context.Background(), "mqtt://slow:1883")
		connected <- err
	}()

	h.rec.push(stt.Result{Kind: stt.ResultText, Text: "still listening"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.app.Snapshot(ctx); err != nil {
		t.Fatalf("snapshot while connect in flight: %v", err)
	}
	waitSnapshot(t, h.app, func(s Snapshot) bool { return s.Transcript == "still listening" })

	select {
	case err := <-connected:
		t.Fatalf("connect returned before the broker answered: %v", err)
	default:
	}
	close(h.broker.gate)
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}
	snap := waitSnapshot(t, h.app, func(s Snapshot) bool { return lastNotice(s).Text == "MQTT adapter started." })
	if snap.Transcript != "still listening" {
		t.Fatalf("unexpected transcript %q", snap.Transcript)
	}
}

func TestStatus(t *testing.T) {
	h := startApp(t)
	st, err := h.app.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.AppName != "MG" || st.Devices != 1 || st.RecognizerRunning || st.MQTTConnected || st.InternetReachable {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestCommandsAfterStop(t *testing.T) {
	cfg := config.Default()
	a := New(cfg, Deps{Recognizer: &fakeRecognizer{}, Broker: &fakeBroker{}, Responder: fakeResponder{}}, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := a.Snapshot(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
