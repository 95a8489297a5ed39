package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/peerlink/internal/protocol/frame"
	"github.com/danmuck/peerlink/internal/protocol/schema"
	"github.com/danmuck/peerlink/internal/protocol/tlv"
)

var ErrArgIndex = errors.New("session: event arg index out of range")

// Event is one named event with positional JSON arguments, in either direction.
type Event struct {
	Name        string
	Args        []json.RawMessage
	TimestampMS uint64
}

// NewEvent marshals args positionally into an Event.
func NewEvent(name string, args ...any) (Event, error) {
	ev := Event{Name: strings.TrimSpace(name), Args: make([]json.RawMessage, 0, len(args))}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Event{}, fmt.Errorf("session: marshal arg %d of %q: %w", i, ev.Name, err)
		}
		ev.Args = append(ev.Args, raw)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("event missing name")
	}
	return nil
}

// Decode unmarshals positional argument i into out.
func (e Event) Decode(i int, out any) error {
	if i < 0 || i >= len(e.Args) {
		return fmt.Errorf("%w: %q has %d args, want index %d", ErrArgIndex, e.Name, len(e.Args), i)
	}
	return json.Unmarshal(e.Args[i], out)
}

// EmitAck is the peer's receipt for one event frame, correlated by message id.
type EmitAck struct {
	AckStatus   string
	AckCode     uint32
	Reason      string
	TimestampMS uint64
}

func (a EmitAck) Validate() error {
	status := strings.TrimSpace(a.AckStatus)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("emit.ack invalid ack_status %q", a.AckStatus)
	}
	return nil
}

func EncodeEventFrame(messageID uint64, event Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	fields := make([]tlv.Field, 0, len(event.Args)+2)
	fields = append(fields, tlv.String(schema.FieldEventName, event.Name))
	for _, arg := range event.Args {
		fields = append(fields, tlv.Field{ID: schema.FieldArg, Type: tlv.TypeJSON, Value: arg})
	}
	if event.TimestampMS != 0 {
		fields = append(fields, tlv.U64(schema.FieldTimestampMS, event.TimestampMS))
	}
	if err := schema.Validate(schema.MsgEvent, fields); err != nil {
		return nil, err
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgEvent,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func DecodeEventFrame(f frame.Frame) (Event, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Event{}, err
	}
	if err := schema.Validate(schema.MsgEvent, fields); err != nil {
		return Event{}, err
	}
	event := Event{Name: getRequiredString(fields, schema.FieldEventName)}
	argFields := tlv.GetAll(fields, schema.FieldArg)
	event.Args = make([]json.RawMessage, 0, len(argFields))
	for _, af := range argFields {
		if !json.Valid(af.Value) {
			return Event{}, fmt.Errorf("session: event %q carries invalid json arg", event.Name)
		}
		event.Args = append(event.Args, json.RawMessage(af.Value))
	}
	if tsField, ok := tlv.GetField(fields, schema.FieldTimestampMS); ok {
		ts, err := tlv.U64FromBytes(tsField.Value)
		if err != nil {
			return Event{}, err
		}
		event.TimestampMS = ts
	}
	return event, nil
}

// EncodeEmitAckFrame answers the event frame carrying messageID.
func EncodeEmitAckFrame(messageID uint64, ack EmitAck) ([]byte, error) {
	if err := ack.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.String(schema.FieldAckStatus, ack.AckStatus),
		tlv.U32(schema.FieldAckCode, ack.AckCode),
	}
	if v := strings.TrimSpace(ack.Reason); v != "" {
		fields = append(fields, tlv.String(schema.FieldAckReason, v))
	}
	if ack.TimestampMS != 0 {
		fields = append(fields, tlv.U64(schema.FieldTimestampMS, ack.TimestampMS))
	}
	if err := schema.Validate(schema.MsgEmitAck, fields); err != nil {
		return nil, err
	}
	flags := frame.FlagIsResponse
	if ack.AckStatus != AckStatusAccepted {
		flags |= frame.FlagIsError
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgEmitAck,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func DecodeEmitAckFrame(f frame.Frame) (EmitAck, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return EmitAck{}, err
	}
	if err := schema.Validate(schema.MsgEmitAck, fields); err != nil {
		return EmitAck{}, err
	}
	ack := EmitAck{
		AckStatus: getRequiredString(fields, schema.FieldAckStatus),
		Reason:    getOptionalString(fields, schema.FieldAckReason),
	}
	codeField, _ := tlv.GetField(fields, schema.FieldAckCode)
	code, err := tlv.U32FromBytes(codeField.Value)
	if err != nil {
		return EmitAck{}, err
	}
	ack.AckCode = code
	if tsField, ok := tlv.GetField(fields, schema.FieldTimestampMS); ok {
		ts, err := tlv.U64FromBytes(tsField.Value)
		if err != nil {
			return EmitAck{}, err
		}
		ack.TimestampMS = ts
	}
	return ack, nil
}

func getRequiredString(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}

func getOptionalString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}
