package sphinx

import (
	"encoding/binary"
)

// FailureCode identifies the class of a routing failure reported back to the
// origin of a payment.
type FailureCode uint16

const (
	// CodeInvalidOnion is reported when a hop could not process the
	// packet it received: bad version, bad integrity tag or a failed
	// decapsulation.
	CodeInvalidOnion FailureCode = 1

	// CodeTemporaryChannelFailure is reported when the named outgoing
	// channel cannot currently carry the forward.
	CodeTemporaryChannelFailure FailureCode = 2

	// CodeAmountBelowMinimum is reported when the forward amount is under
	// the hop's configured minimum.
	CodeAmountBelowMinimum FailureCode = 3

	// CodeExpiryTooSoon is reported when the outgoing timeout leaves the
	// hop too little room to claim a settled contract on time.
	CodeExpiryTooSoon FailureCode = 4

	// CodeUnknownNextChannel is reported when the instruction names an
	// outgoing channel the hop does not have.
	CodeUnknownNextChannel FailureCode = 5

	// CodeIncorrectPaymentDetails is reported by the destination when the
	// delivered instruction doesn't match an expected payment.
	CodeIncorrectPaymentDetails FailureCode = 6
)

// String returns a human readable identifier for the failure code.
func (c FailureCode) String() string {
	switch c {
	case CodeInvalidOnion:
		return "InvalidOnion"
	case CodeTemporaryChannelFailure:
		return "TemporaryChannelFailure"
	case CodeAmountBelowMinimum:
		return "AmountBelowMinimum"
	case CodeExpiryTooSoon:
		return "ExpiryTooSoon"
	case CodeUnknownNextChannel:
		return "UnknownNextChannel"
	case CodeIncorrectPaymentDetails:
		return "IncorrectPaymentDetails"
	default:
		return "Unknown"
	}
}

// failureDataSize is the fixed size of the failure-specific data region.
// Padding every message to the same length keeps the length of the error
// blob from narrowing down which failure occurred.
const failureDataSize = 256

// FailureMessage is the plaintext carried by an error onion: a failure code
// followed by failure-specific data.
type FailureMessage struct {
	// Code classifies the failure.
	Code FailureCode

	// Data is the failure-specific payload, at most failureDataSize
	// bytes.
	Data []byte
}

// EncodeFailureMessage serializes the failure message into its fixed-length
// wire form: code, data length, data, zero padding.
func EncodeFailureMessage(msg FailureMessage) ([]byte, error) {
	if len(msg.Data) > failureDataSize {
		return nil, ErrPayloadOverflow
	}

	b := make([]byte, 2+2+failureDataSize)
	binary.BigEndian.PutUint16(b[0:], uint16(msg.Code))
	binary.BigEndian.PutUint16(b[2:], uint16(len(msg.Data)))
	copy(b[4:], msg.Data)

	return b, nil
}

// DecodeFailureMessage parses a fully peeled failure message from its wire
// form.
func DecodeFailureMessage(b []byte) (*FailureMessage, error) {
	if len(b) < 4 {
		return nil, ErrMalformedPayload
	}

	code := FailureCode(binary.BigEndian.Uint16(b[0:]))
	dataLen := int(binary.BigEndian.Uint16(b[2:]))
	if dataLen > len(b)-4 {
		return nil, ErrMalformedPayload
	}

	return &FailureMessage{
		Code: code,
		Data: b[4 : 4+dataLen],
	}, nil
}
