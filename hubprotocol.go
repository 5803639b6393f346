package signalr

import "fmt"

// MessageType is the value of the "type" field every hub message except the handshake carries.
type MessageType int

// Hub message types. See https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
const (
	InvocationType       MessageType = 1
	StreamItemType       MessageType = 2
	CompletionType       MessageType = 3
	StreamInvocationType MessageType = 4
	CancelInvocationType MessageType = 5
	PingType             MessageType = 6
	CloseType            MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case 0:
		return "Handshake"
	case InvocationType:
		return "Invocation"
	case StreamItemType:
		return "StreamItem"
	case CompletionType:
		return "Completion"
	case StreamInvocationType:
		return "StreamInvocation"
	case CancelInvocationType:
		return "CancelInvocation"
	case PingType:
		return "Ping"
	case CloseType:
		return "Close"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message is one of the hub protocol messages of this package:
// HandshakeRequest, HandshakeResponse, PingMessage, CloseMessage, InvocationMessage,
// StreamInvocationMessage, StreamItemMessage, CompletionMessage and CancelInvocationMessage.
type Message interface {
	messageType() MessageType
}

// invocationBound is implemented by all messages which belong to an invocation
type invocationBound interface {
	Message
	invocationID() string
}

// HandshakeRequest is sent once, directly after the transport has been opened.
// It does not carry a message type.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the servers answer to the HandshakeRequest. A non-empty Error means the server refused the handshake.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// PingMessage keeps the connection alive.
type PingMessage struct {
	Type MessageType `json:"type"`
}

// CloseMessage is sent by either side to end the connection. A non-empty Error signals an abnormal closure.
type CloseMessage struct {
	Type           MessageType `json:"type"`
	Error          string      `json:"error,omitempty"`
	AllowReconnect bool        `json:"allowReconnect,omitempty"`
}

// InvocationMessage requests the peer to execute Target. An empty InvocationID means no completion is expected.
type InvocationMessage struct {
	Type         MessageType       `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []interface{}     `json:"arguments"`
}

// StreamInvocationMessage requests a stream of results from the peer.
type StreamInvocationMessage struct {
	Type         MessageType       `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	InvocationID string            `json:"invocationId"`
	Target       string            `json:"target"`
	Arguments    []interface{}     `json:"arguments"`
}

// StreamItemMessage is one item of a result stream.
type StreamItemMessage struct {
	Type         MessageType       `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	InvocationID string            `json:"invocationId"`
	Item         interface{}       `json:"item"`
}

// CompletionMessage ends an invocation or a stream invocation.
// Error and Result are exclusive, both empty is a completion without result.
type CompletionMessage struct {
	Type         MessageType       `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	InvocationID string            `json:"invocationId"`
	Error        string            `json:"error,omitempty"`
	Result       interface{}       `json:"result,omitempty"`
}

// CancelInvocationMessage asks the server to stop a running stream invocation.
type CancelInvocationMessage struct {
	Type         MessageType       `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	InvocationID string            `json:"invocationId"`
}

func (HandshakeRequest) messageType() MessageType        { return 0 }
func (HandshakeResponse) messageType() MessageType       { return 0 }
func (PingMessage) messageType() MessageType             { return PingType }
func (CloseMessage) messageType() MessageType            { return CloseType }
func (InvocationMessage) messageType() MessageType       { return InvocationType }
func (StreamInvocationMessage) messageType() MessageType { return StreamInvocationType }
func (StreamItemMessage) messageType() MessageType       { return StreamItemType }
func (CompletionMessage) messageType() MessageType       { return CompletionType }
func (CancelInvocationMessage) messageType() MessageType { return CancelInvocationType }

func (m InvocationMessage) invocationID() string       { return m.InvocationID }
func (m StreamInvocationMessage) invocationID() string { return m.InvocationID }
func (m StreamItemMessage) invocationID() string       { return m.InvocationID }
func (m CompletionMessage) invocationID() string       { return m.InvocationID }
func (m CancelInvocationMessage) invocationID() string { return m.InvocationID }

// Well known messages
var (
	// Handshake selects the JSON hub protocol, version 1
	Handshake = HandshakeRequest{Protocol: "json", Version: 1}
	// Ping is the keepalive message
	Ping = PingMessage{Type: PingType}
	// CloseNormally closes the connection without error
	CloseNormally = CloseMessage{Type: CloseType}
)

// NewInvocationMessage creates an InvocationMessage. Pass an empty invocationID for fire and forget invocations.
func NewInvocationMessage(target string, arguments []interface{}, invocationID string, headers map[string]string) InvocationMessage {
	return InvocationMessage{
		Type:         InvocationType,
		Headers:      headers,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    normalizeArguments(arguments),
	}
}

// NewStreamInvocationMessage creates a StreamInvocationMessage.
func NewStreamInvocationMessage(target string, arguments []interface{}, invocationID string, headers map[string]string) StreamInvocationMessage {
	return StreamInvocationMessage{
		Type:         StreamInvocationType,
		Headers:      headers,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    normalizeArguments(arguments),
	}
}

// NewCancelInvocationMessage creates a CancelInvocationMessage.
func NewCancelInvocationMessage(invocationID string, headers map[string]string) CancelInvocationMessage {
	return CancelInvocationMessage{
		Type:         CancelInvocationType,
		Headers:      headers,
		InvocationID: invocationID,
	}
}

// NewStreamItemMessage creates a StreamItemMessage.
func NewStreamItemMessage(invocationID string, item interface{}) StreamItemMessage {
	return StreamItemMessage{
		Type:         StreamItemType,
		InvocationID: invocationID,
		Item:         item,
	}
}

// NewCompletionMessage creates a CompletionMessage.
func NewCompletionMessage(invocationID string, result interface{}, error string) CompletionMessage {
	return CompletionMessage{
		Type:         CompletionType,
		InvocationID: invocationID,
		Result:       result,
		Error:        error,
	}
}

// NewCloseMessage creates a CloseMessage with an optional error.
func NewCloseMessage(error string) CloseMessage {
	return CloseMessage{
		Type:  CloseType,
		Error: error,
	}
}

func normalizeArguments(arguments []interface{}) []interface{} {
	if arguments == nil {
		return make([]interface{}, 0)
	}
	return arguments
}
