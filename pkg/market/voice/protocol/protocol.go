// Package protocol defines the JSON frames exchanged on the /ws voice
// channel.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Client frame types.
const (
	TypeVoiceInput = "voice_input"
	TypeTranscript = "transcript"
	TypeAuth       = "auth"
	TypePing       = "ping"
	TypeAck        = "ack"
	TypeReconnect  = "reconnect"
	TypeInit       = "init"
	TypeMessage    = "message"
)

// Server frame types.
const (
	TypeConnected         = "connected"
	TypeProcessingStarted = "processing_started"
	TypeAIResponse        = "ai_response"
	TypeError             = "error"
	TypeResponse          = "response"
	TypeAuthSuccess       = "auth_success"
	TypeAuthFailed        = "auth_failed"
	TypePong              = "pong"
	TypeInitResponse      = "init_response"
	TypeReconnected       = "reconnected"
	TypeWarning           = "warning"
	TypeBid               = "bid"
	TypeBiddingClosed     = "bidding_closed"
	TypePostCreated       = "post_created"
	TypeBidWon            = "bid_won"
)

// Error codes carried in error frames.
const (
	CodeBadRequest       = 4000
	CodeUnauthorized     = 4001
	CodeRateLimited      = 4029
	CodeProcessingFailed = 4500
	CodeDraining         = 4503
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type VoiceInput struct {
	Type      string `json:"type"`
	Audio     string `json:"audio"`
	Format    string `json:"format,omitempty"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	// AudioBytes is the decoded Audio field.
	AudioBytes []byte `json:"-"`
}

type Transcript struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type Ping struct {
	Type string `json:"type"`
}

type Ack struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type Reconnect struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Token        string `json:"token"`
}

type InitPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}

type Init struct {
	Type    string      `json:"type"`
	Payload InitPayload `json:"payload"`
}

type MessagePayload struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type Message struct {
	Type      string         `json:"type"`
	Payload   MessagePayload `json:"payload"`
	MessageID string         `json:"messageId,omitempty"`
}

// DecodeClientMessage validates a text frame and returns one of the typed
// client messages above.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeVoiceInput:
		var msg VoiceInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid voice_input frame", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio is required", "audio")
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, badRequest("audio must be base64", "audio")
		}
		msg.AudioBytes = audio
		msg.Audio = ""
		return msg, nil
	case TypeTranscript:
		var msg Transcript
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid transcript frame", "")
		}
		if strings.TrimSpace(msg.Content) == "" {
			return nil, badRequest("content is required", "content")
		}
		return msg, nil
	case TypeAuth:
		var msg Auth
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid auth frame", "")
		}
		if strings.TrimSpace(msg.Token) == "" {
			return nil, badRequest("token is required", "token")
		}
		return msg, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	case TypeAck:
		var msg Ack
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ack frame", "")
		}
		if strings.TrimSpace(msg.MessageID) == "" {
			return nil, badRequest("messageId is required", "messageId")
		}
		return msg, nil
	case TypeReconnect:
		var msg Reconnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid reconnect frame", "")
		}
		if strings.TrimSpace(msg.ConnectionID) == "" {
			return nil, badRequest("connectionId is required", "connectionId")
		}
		if strings.TrimSpace(msg.Token) == "" {
			return nil, badRequest("token is required", "token")
		}
		return msg, nil
	case TypeInit:
		var msg Init
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid init frame", "")
		}
		return msg, nil
	case TypeMessage:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid message frame", "")
		}
		if strings.TrimSpace(msg.Payload.Text) == "" {
			return nil, badRequest("payload.text is required", "payload.text")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

var sessionPrefix = regexp.MustCompile(`^(session_[^:]{1,128}):`)

// SplitSessionPrefix strips an optional "session_<id>:" prefix from a
// binary audio frame.
func SplitSessionPrefix(data []byte) (sessionID string, audio []byte) {
	if !bytes.HasPrefix(data, []byte("session_")) {
		return "", data
	}
	head := data
	if len(head) > 140 {
		head = head[:140]
	}
	m := sessionPrefix.FindSubmatchIndex(head)
	if m == nil {
		return "", data
	}
	return string(data[m[2]:m[3]]), data[m[1]:]
}

// Server is the single outbound frame shape. Unused fields are omitted.
type Server struct {
	Type         string `json:"type"`
	Message      string `json:"message,omitempty"`
	Content      any    `json:"content,omitempty"`
	Payload      any    `json:"payload,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Code         int    `json:"code,omitempty"`
	UserID       int64  `json:"userId,omitempty"`
	ProductID    int64  `json:"productId,omitempty"`
	PostID       int64  `json:"postId,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Status       string `json:"status,omitempty"`
	Title        string `json:"title,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// Warning is a non-fatal notice, such as the drain notice sent before a
// restart. Code is a short machine-readable string.
type Warning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WarningFrame(code, message string) Warning {
	return Warning{Type: TypeWarning, Code: code, Message: message}
}

func ErrorFrame(code int, message string) Server {
	return Server{Type: TypeError, Code: code, Message: message}
}
