package signalr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const recordSeparator = 0x1e

// ErrMessageIncomplete is returned by Deserialize when a frame does not end with the record separator.
var ErrMessageIncomplete = errors.New("message incomplete")

type jsonError struct {
	raw string
	err error
}

func (j *jsonError) Error() string {
	return fmt.Sprintf("%v (source: %v)", j.err, j.raw)
}

func (j *jsonError) Unwrap() error {
	return j.err
}

// Serializer is the text based (JSON) framing of the hub protocol.
// Every message is encoded as JSON and terminated with the record separator 0x1e.
// A Serializer can be shared between connections.
type Serializer struct {
	reviver PropertyParser
}

// NewSerializer creates a Serializer. The parsers are composed left to right
// and applied to every value of a received message, see PropertyParser.
func NewSerializer(parsers ...PropertyParser) *Serializer {
	return &Serializer{reviver: ChainPropertyParsers(parsers...)}
}

// Serialize encodes the batch into one frame.
func (s *Serializer) Serialize(batch []Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, message := range batch {
		if err := enc.Encode(message); err != nil {
			return nil, fmt.Errorf("serialize %v: %w", message.messageType(), err)
		}
		// Encode terminates each value with '\n'. Replace it with the record separator
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(recordSeparator)
	}
	if len(batch) == 0 {
		buf.WriteByte(recordSeparator)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes one frame into its messages.
// A frame which does not end with the record separator fails with ErrMessageIncomplete.
// If one record of the frame can not be decoded, the whole frame fails.
func (s *Serializer) Deserialize(frame []byte) ([]Message, error) {
	if len(frame) == 0 || frame[len(frame)-1] != recordSeparator {
		return nil, ErrMessageIncomplete
	}
	body := frame[:len(frame)-1]
	if len(body) == 0 {
		return []Message{}, nil
	}
	records := bytes.Split(body, []byte{recordSeparator})
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		message, err := s.parseRecord(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (s *Serializer) parseRecord(record []byte) (Message, error) {
	var tree interface{}
	if err := json.Unmarshal(record, &tree); err != nil {
		return nil, &jsonError{string(record), err}
	}
	if s.reviver != nil {
		tree = revive("", tree, s.reviver)
	}
	object, ok := tree.(map[string]interface{})
	if !ok {
		return nil, &jsonError{string(record), fmt.Errorf("hub message must be a JSON object, got %T", tree)}
	}
	message, err := jsonObject(object).message()
	if err != nil {
		return nil, &jsonError{string(record), err}
	}
	return message, nil
}

// jsonObject maps a decoded JSON object onto the typed messages
type jsonObject map[string]interface{}

func (o jsonObject) message() (Message, error) {
	rawType, ok := o["type"]
	if !ok {
		// Only the handshake messages come without type
		if _, ok := o["protocol"]; ok {
			return o.handshakeRequest()
		}
		e, err := o.string("error")
		return HandshakeResponse{Error: e}, err
	}
	t, ok := rawType.(float64)
	if !ok {
		return nil, fmt.Errorf("field \"type\": expected number, got %T", rawType)
	}
	switch MessageType(t) {
	case InvocationType:
		m := InvocationMessage{Type: InvocationType}
		err := o.fill(
			o.stringInto("target", &m.Target, true),
			o.stringInto("invocationId", &m.InvocationID, false),
			o.argumentsInto(&m.Arguments),
			o.headersInto(&m.Headers))
		return m, err
	case StreamInvocationType:
		m := StreamInvocationMessage{Type: StreamInvocationType}
		err := o.fill(
			o.stringInto("target", &m.Target, true),
			o.stringInto("invocationId", &m.InvocationID, true),
			o.argumentsInto(&m.Arguments),
			o.headersInto(&m.Headers))
		return m, err
	case StreamItemType:
		m := StreamItemMessage{Type: StreamItemType, Item: o["item"]}
		err := o.fill(
			o.stringInto("invocationId", &m.InvocationID, true),
			o.headersInto(&m.Headers))
		return m, err
	case CompletionType:
		m := CompletionMessage{Type: CompletionType, Result: o["result"]}
		err := o.fill(
			o.stringInto("invocationId", &m.InvocationID, true),
			o.stringInto("error", &m.Error, false),
			o.headersInto(&m.Headers))
		return m, err
	case CancelInvocationType:
		m := CancelInvocationMessage{Type: CancelInvocationType}
		err := o.fill(
			o.stringInto("invocationId", &m.InvocationID, true),
			o.headersInto(&m.Headers))
		return m, err
	case PingType:
		return Ping, nil
	case CloseType:
		m := CloseMessage{Type: CloseType}
		if allow, ok := o["allowReconnect"].(bool); ok {
			m.AllowReconnect = allow
		}
		err := o.fill(o.stringInto("error", &m.Error, false))
		return m, err
	default:
		return nil, fmt.Errorf("unknown message type %v", t)
	}
}

func (o jsonObject) handshakeRequest() (Message, error) {
	m := HandshakeRequest{}
	if err := o.stringInto("protocol", &m.Protocol, true); err != nil {
		return nil, err
	}
	version, ok := o["version"].(float64)
	if !ok {
		return nil, fmt.Errorf("field \"version\": expected number, got %T", o["version"])
	}
	m.Version = int(version)
	return m, nil
}

// fill returns the first error of its field setters. The setters have already run when fill is called.
func (o jsonObject) fill(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (o jsonObject) string(key string) (string, error) {
	value, ok := o[key]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", key, value)
	}
	return s, nil
}

func (o jsonObject) stringInto(key string, target *string, required bool) (err error) {
	if *target, err = o.string(key); err == nil && required && *target == "" {
		err = fmt.Errorf("field %q is missing", key)
	}
	return err
}

func (o jsonObject) argumentsInto(target *[]interface{}) error {
	switch arguments := o["arguments"].(type) {
	case nil:
		*target = make([]interface{}, 0)
	case []interface{}:
		*target = arguments
	default:
		return fmt.Errorf("field \"arguments\": expected array, got %T", arguments)
	}
	return nil
}

func (o jsonObject) headersInto(target *map[string]string) error {
	switch headers := o["headers"].(type) {
	case nil:
	case map[string]interface{}:
		*target = make(map[string]string, len(headers))
		for key, value := range headers {
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("header %q: expected string, got %T", key, value)
			}
			(*target)[key] = s
		}
	default:
		return fmt.Errorf("field \"headers\": expected object, got %T", headers)
	}
	return nil
}
