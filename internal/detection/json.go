package detection

import (
	"encoding/json"
	"math"
	"time"
)

// Stream payload discriminators. Every line of the stream protocol carries a
// top-level "type" field; lines without one are treated as bare detection
// payloads for compatibility with older producers.
const (
	PayloadTypeDetection  = "detection"
	PayloadTypeConnection = "connection"
	PayloadTypeCommand    = "command"
	PayloadTypeUnknown    = "unknown"
)

// Default confidence byte applied when a JSON payload omits the field.
const defaultConfidenceByte = 200

// Message is one parsed line of the stream protocol.
type Message struct {
	Type      string
	Detection Detection // set when Type == PayloadTypeDetection
	Note      string    // human-readable text when Type == PayloadTypeConnection
	Command   string    // set when Type == PayloadTypeCommand
}

// ParseLine parses one newline-delimited stream frame. Invalid JSON returns
// ErrMalformedJSON; an enveloped detection with bad payload fields returns
// the field error; unrecognized types return a Message with
// PayloadTypeUnknown so the caller can log and drop the line.
func ParseLine(line []byte) (Message, error) {
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return Message{}, ErrMalformedJSON
	}

	typ, _ := obj["type"].(string)
	switch typ {
	case PayloadTypeDetection:
		payload := obj
		if data, ok := obj["data"].(map[string]any); ok {
			payload = data
		}
		d, err := DecodeObject(payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: PayloadTypeDetection, Detection: d}, nil

	case PayloadTypeConnection:
		note, _ := obj["message"].(string)
		return Message{Type: PayloadTypeConnection, Note: note}, nil

	case PayloadTypeCommand:
		cmd, _ := obj["command"].(string)
		return Message{Type: PayloadTypeCommand, Command: cmd}, nil

	case "":
		// No discriminator: accept a bare detection object.
		d, err := DecodeObject(obj)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: PayloadTypeDetection, Detection: d}, nil

	default:
		return Message{Type: PayloadTypeUnknown}, nil
	}
}

// DecodeObject decodes a parsed key-value detection payload. The four
// numeric fields x_position, y_position, depth and snr are required; the
// rest default: object_id to a fresh id, timestamp to the receipt time,
// confidence to 200/255, object_type to unknown.
func DecodeObject(obj map[string]any) (Detection, error) {
	x, err := numberField(obj, "x_position")
	if err != nil {
		return Detection{}, err
	}
	y, err := numberField(obj, "y_position")
	if err != nil {
		return Detection{}, err
	}
	depth, err := numberField(obj, "depth")
	if err != nil {
		return Detection{}, err
	}
	snr, err := numberField(obj, "snr")
	if err != nil {
		return Detection{}, err
	}

	d := Detection{
		XPosition:  x,
		YPosition:  y,
		Depth:      depth,
		SNR:        snr,
		ObjectType: ObjectTypeUnknown,
	}

	if id, ok := obj["object_id"].(string); ok && id != "" {
		d.ObjectID = id
	} else {
		d.ObjectID = newObjectID()
	}

	if ts, ok := obj["timestamp"].(float64); ok {
		d.Timestamp = int64(ts)
	} else {
		d.Timestamp = time.Now().UnixMilli()
	}

	if conf, ok := obj["confidence"].(float64); ok {
		d.Confidence = conf / 255.0
	} else {
		d.Confidence = float64(defaultConfidenceByte) / 255.0
	}

	if code, ok := obj["object_type"].(float64); ok {
		d.ObjectType = ObjectTypeFromCode(int(code))
	}

	return d.sanitize(), nil
}

func numberField(obj map[string]any, name string) (float64, error) {
	v, ok := obj[name].(float64)
	if !ok {
		return 0, &MissingFieldError{Field: name}
	}
	return v, nil
}

// commandEnvelope is the outbound stream command wrapper.
type commandEnvelope struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeCommand wraps a command string in the stream protocol envelope,
// newline terminated. Command strings are opaque to this layer.
func EncodeCommand(command string) []byte {
	env := commandEnvelope{
		Type:      PayloadTypeCommand,
		Command:   command,
		Timestamp: time.Now().UnixMilli(),
	}
	// An envelope of three scalar fields cannot fail to marshal.
	b, _ := json.Marshal(env)
	return append(b, '\n')
}

// wireDetection is the producer-side payload shape. Confidence travels as a
// 0..255 value on the wire; the struct field holds 0..1.
type wireDetection struct {
	ObjectID   string  `json:"object_id"`
	XPosition  float64 `json:"x_position"`
	YPosition  float64 `json:"y_position"`
	Depth      float64 `json:"depth"`
	SNR        float64 `json:"snr"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
	ObjectType int     `json:"object_type"`
}

type detectionEnvelope struct {
	Type      string        `json:"type"`
	Data      wireDetection `json:"data"`
	Timestamp int64         `json:"timestamp"`
}

// EncodeDetection renders a detection as one enveloped stream line, newline
// terminated. It is the producer-side counterpart of ParseLine.
func EncodeDetection(d Detection) []byte {
	env := detectionEnvelope{
		Type: PayloadTypeDetection,
		Data: wireDetection{
			ObjectID:   d.ObjectID,
			XPosition:  d.XPosition,
			YPosition:  d.YPosition,
			Depth:      d.Depth,
			SNR:        d.SNR,
			Timestamp:  d.Timestamp,
			Confidence: math.Round(clamp01(d.Confidence) * 255.0),
			ObjectType: int(d.ObjectType),
		},
		Timestamp: time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(env)
	return append(b, '\n')
}

type connectionEnvelope struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeConnection renders the greeting line a stream producer sends on
// accept.
func EncodeConnection(note string) []byte {
	env := connectionEnvelope{
		Type:      PayloadTypeConnection,
		Message:   note,
		Timestamp: time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(env)
	return append(b, '\n')
}
