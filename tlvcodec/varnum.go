// Package tlvcodec implements the TLV wire format for NDNCERT request,
// challenge, and error content blocks. Type and length fields follow the
// NDN TLV variable-size-number convention: a number under 253 is encoded
// in a single byte, under 65536 as 0xFD followed by 2 bytes, under 2^32
// as 0xFE followed by 4 bytes, and otherwise as 0xFF followed by 8 bytes.
package tlvcodec

import (
	"encoding/binary"
	"errors"
)

var (
	ErrBufferTooShort  = errors.New("tlvcodec: buffer too short")
	ErrUnknownCritical = errors.New("tlvcodec: unknown mandatory field")
	ErrMalformed       = errors.New("tlvcodec: malformed TLV")
)

// appendVarNum appends the TLV variable-size-number encoding of v to buf.
func appendVarNum(buf []byte, v uint64) []byte {
	switch {
	case v < 253:
		return append(buf, byte(v))
	case v < 1<<16:
		b := make([]byte, 3)
		b[0] = 0xFD
		binary.BigEndian.PutUint16(b[1:], uint16(v))
		return append(buf, b...)
	case v < 1<<32:
		b := make([]byte, 5)
		b[0] = 0xFE
		binary.BigEndian.PutUint32(b[1:], uint32(v))
		return append(buf, b...)
	default:
		b := make([]byte, 9)
		b[0] = 0xFF
		binary.BigEndian.PutUint64(b[1:], v)
		return append(buf, b...)
	}
}

// readVarNum reads a TLV variable-size-number from buf, returning the
// value and the number of bytes consumed.
func readVarNum(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, ErrBufferTooShort
	}
	switch first := buf[0]; {
	case first < 253:
		return uint64(first), 1, nil
	case first == 0xFD:
		if len(buf) < 3 {
			return 0, 0, ErrBufferTooShort
		}
		return uint64(binary.BigEndian.Uint16(buf[1:3])), 3, nil
	case first == 0xFE:
		if len(buf) < 5 {
			return 0, 0, ErrBufferTooShort
		}
		return uint64(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	default:
		if len(buf) < 9 {
			return 0, 0, ErrBufferTooShort
		}
		return binary.BigEndian.Uint64(buf[1:9]), 9, nil
	}
}

// element is one decoded (type, value) TLV pair.
type element struct {
	typ   uint64
	value []byte
}

// encodeTLV wraps value in a type-length-value block.
func encodeTLV(typ uint64, value []byte) []byte {
	buf := appendVarNum(nil, typ)
	buf = appendVarNum(buf, uint64(len(value)))
	return append(buf, value...)
}

// parseElements splits buf into a flat sequence of top-level TLV elements.
func parseElements(buf []byte) ([]element, error) {
	var elements []element
	for len(buf) > 0 {
		typ, n, err := readVarNum(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		length, n, err := readVarNum(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		if uint64(len(buf)) < length {
			return nil, ErrMalformed
		}
		elements = append(elements, element{typ: typ, value: buf[:length]})
		buf = buf[length:]
	}
	return elements, nil
}

// encodeVarint encodes a natural number as its own TLV-number bytes (used
// for the RemainingTries/RemainingTime/ErrorCode "varint" payload fields).
func encodeVarint(v uint64) []byte {
	return appendVarNum(nil, v)
}

func decodeVarint(buf []byte) (uint64, error) {
	v, n, err := readVarNum(buf)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, ErrMalformed
	}
	return v, nil
}
