package protocol

import "time"

// Transcript is a finalized utterance from the offline recognizer.
type Transcript struct {
	Text      string    `json:"text"`
	ModelPath string    `json:"model_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply pairs user input with the responder's answer.
type Reply struct {
	Input     string    `json:"input"`
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceCommand records a command sent to a device topic.
type DeviceCommand struct {
	Device    string    `json:"device"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// BrokerMessage mirrors an inbound MQTT publication.
type BrokerMessage struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

const (
	SubjectTranscript    = "mg.transcript"
	SubjectReply         = "mg.reply"
	SubjectDeviceCommand = "mg.device.command"
	SubjectBrokerMessage = "mg.mqtt.message"
)

// Event kinds as stored in the history table.
const (
	KindTranscript    = "transcript"
	KindReply         = "reply"
	KindDeviceCommand = "device_command"
	KindBrokerMessage = "mqtt_message"
)

// SubjectFor maps an event kind to its bus subject.
func SubjectFor(kind string) string {
	switch kind {
	case KindTranscript:
		return SubjectTranscript
	case KindReply:
		return SubjectReply
	case KindDeviceCommand:
		return SubjectDeviceCommand
	case KindBrokerMessage:
		return SubjectBrokerMessage
	}
	return ""
}
