package schema

import (
	"fmt"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/protocol/tlv"
)

// Message type IDs from the tlv contract.
const (
	MsgEvent   uint32 = 1
	MsgEmitAck uint32 = 2
)

// Field IDs from the tlv contract.
const (
	FieldEventName uint16 = 1
	FieldArg       uint16 = 2

	FieldAckStatus uint16 = 100
	FieldAckCode   uint16 = 101
	FieldAckReason uint16 = 102

	FieldTimestampMS uint16 = 200
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgEvent: {
		{FieldEventName, tlv.TypeString},
	},
	MsgEmitAck: {
		{FieldAckStatus, tlv.TypeString},
		{FieldAckCode, tlv.TypeU32},
	},
}

// repeated lists fields that may appear more than once and must all share one type.
var repeated = map[uint32][]Requirement{
	MsgEvent: {
		{FieldArg, tlv.TypeJSON},
	},
}

// Validate enforces required fields and field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logging.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Errf("schema.Validate missing field message_type=%d field_id=%d", messageType, req.ID)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Errf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, req := range repeated[messageType] {
		for _, f := range tlv.GetAll(fields, req.ID) {
			if f.Type != req.Type {
				return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
			}
		}
	}
	return nil
}
