package app

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/loqalabs/mg-assistant/internal/capability"
	"github.com/loqalabs/mg-assistant/internal/mqtt"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const maxNotices = 50

type Notice struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// State is owned by the goroutine running App.Run.
type State struct {
	Transcript        string
	Reply             string
	Messages          []mqtt.Message
	RecognizerRunning bool
	MQTTConnected     bool
	Notices           []Notice
}

func (s *State) appendTranscript(text string) {
	s.Transcript = strings.TrimSpace(s.Transcript + " " + strings.TrimSpace(text))
}

func (s *State) notify(at time.Time, level Level, text string) {
	if text == "" {
		return
	}
	s.Notices = append(s.Notices, Notice{Level: level, Text: text, At: at.UTC()})
	if over := len(s.Notices) - maxNotices; over > 0 {
		s.Notices = append([]Notice(nil), s.Notices[over:]...)
	}
}

func (s *State) snapshot(appName string, localOnly bool, display int) Snapshot {
	msgs := s.Messages
	if display > 0 && len(msgs) > display {
		msgs = msgs[len(msgs)-display:]
	}
	return Snapshot{
		AppName:           appName,
		LocalOnly:         localOnly,
		Transcript:        s.Transcript,
		Reply:             s.Reply,
		Messages:          append([]mqtt.Message{}, msgs...),
		MessageCount:      len(s.Messages),
		RecognizerRunning: s.RecognizerRunning,
		MQTTConnected:     s.MQTTConnected,
		Notices:           append([]Notice{}, s.Notices...),
	}
}

// Snapshot is a copy of State safe to hand to other goroutines.
type Snapshot struct {
	AppName           string         `json:"app_name"`
	LocalOnly         bool           `json:"local_only"`
	Transcript        string         `json:"transcript"`
	Reply             string         `json:"reply"`
	Messages          []mqtt.Message `json:"messages"`
	MessageCount      int            `json:"message_count"`
	RecognizerRunning bool           `json:"recognizer_running"`
	MQTTConnected     bool           `json:"mqtt_connected"`
	Notices           []Notice       `json:"notices"`
}

type Status struct {
	AppName           string                  `json:"app_name"`
	LocalOnly         bool                    `json:"local_only"`
	Capabilities      []capability.Capability `json:"capabilities"`
	InternetReachable bool                    `json:"internet_reachable"`
	RecognizerRunning bool                    `json:"recognizer_running"`
	MQTTConnected     bool                    `json:"mqtt_connected"`
	Devices           int                     `json:"devices"`
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
