// Package protocol encodes and decodes the delimited binary frames spoken by the
// stepper firmware.
//
// A command frame is the verb, then the escaped little-endian axis and value
// fields, each preceded by a separator, then the terminator:
//
//	verb , esc(int16 axis) , esc(int32 value) ;
//
// Verbs below 10 are the single character '0'+verb. Larger verbs are written as
// decimal text since '0'+11 is the terminator.
//
// Any separator, terminator, escape or NUL byte inside a field is sent as the
// escape character followed by the literal byte.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/calvinmclean/stringdriver"
)

var (
	ErrNoTerminator = errors.New("no terminator in frame")
	ErrShortPayload = errors.New("payload shorter than expected")
	ErrMalformed    = errors.New("malformed frame")
)

// Command is a decoded command frame. Query is set for frames that carry no fields.
type Command struct {
	Verb  stringdriver.Verb
	Axis  int16
	Value int32
	Query bool
}

func needsEscape(b byte) bool {
	switch b {
	case stringdriver.FieldSeparator, stringdriver.CommandTerminator, stringdriver.EscapeChar, 0:
		return true
	}
	return false
}

// Escape appends src to dst with every delimiter byte escaped
func Escape(dst, src []byte) []byte {
	for _, b := range src {
		if needsEscape(b) {
			dst = append(dst, stringdriver.EscapeChar)
		}
		dst = append(dst, b)
	}
	return dst
}

// Unescape reverses Escape. A trailing escape character is malformed.
func Unescape(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		if src[i] == stringdriver.EscapeChar {
			i++
			if i == len(src) {
				return nil, fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
		}
		out = append(out, src[i])
	}
	return out, nil
}

func appendVerb(dst []byte, v stringdriver.Verb) []byte {
	if v < 10 {
		return append(dst, '0'+byte(v))
	}
	return strconv.AppendUint(dst, uint64(v), 10)
}

// Encode builds the command frame for verb with its axis and value arguments
func Encode(verb stringdriver.Verb, axis int16, value int32) []byte {
	var a [2]byte
	binary.LittleEndian.PutUint16(a[:], uint16(axis))
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], uint32(value))

	frame := make([]byte, 0, 16)
	frame = appendVerb(frame, verb)
	frame = append(frame, stringdriver.FieldSeparator)
	frame = Escape(frame, a[:])
	frame = append(frame, stringdriver.FieldSeparator)
	frame = Escape(frame, v[:])
	return append(frame, stringdriver.CommandTerminator)
}

// EncodeQuery builds a frame with no arguments, such as the positions request
func EncodeQuery(verb stringdriver.Verb) []byte {
	return append(appendVerb(nil, verb), stringdriver.CommandTerminator)
}

// EncodePositions builds the firmware's positions reply. Each position is sent as an
// escaped little-endian int16 in its own field.
func EncodePositions(verb stringdriver.Verb, positions []int32) []byte {
	frame := make([]byte, 0, 2+len(positions)*4)
	frame = appendVerb(frame, verb)
	for _, p := range positions {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(p)))
		frame = append(frame, stringdriver.FieldSeparator)
		frame = Escape(frame, b[:])
	}
	return append(frame, stringdriver.CommandTerminator)
}

// FrameEnd returns the index of the first unescaped terminator in buf, or -1
func FrameEnd(buf []byte) int {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case stringdriver.EscapeChar:
			i++
		case stringdriver.CommandTerminator:
			return i
		}
	}
	return -1
}

// split returns the verb prefix and the unescaped fields of the first frame in buf
func split(buf []byte) ([]byte, [][]byte, error) {
	end := FrameEnd(buf)
	if end < 0 {
		return nil, nil, ErrNoTerminator
	}

	var (
		prefix  []byte
		fields  [][]byte
		current []byte
		inField bool
	)
	for i := 0; i < end; i++ {
		b := buf[i]
		switch {
		case b == stringdriver.FieldSeparator:
			if inField {
				fields = append(fields, current)
			}
			current = []byte{}
			inField = true
		case !inField:
			prefix = append(prefix, b)
		case b == stringdriver.EscapeChar:
			if i+1 >= end {
				return nil, nil, fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			i++
			current = append(current, buf[i])
		default:
			current = append(current, b)
		}
	}
	if inField {
		fields = append(fields, current)
	}

	return prefix, fields, nil
}

// DecodeCommand is the inverse of Encode and EncodeQuery
func DecodeCommand(frame []byte) (Command, error) {
	verb, fields, err := split(frame)
	if err != nil {
		return Command{}, err
	}
	id, err := strconv.ParseUint(string(verb), 10, 8)
	if err != nil {
		return Command{}, fmt.Errorf("%w: invalid verb %q", ErrMalformed, verb)
	}

	cmd := Command{Verb: stringdriver.Verb(id)}
	switch len(fields) {
	case 0:
		cmd.Query = true
		return cmd, nil
	case 2:
	default:
		return Command{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformed, len(fields))
	}

	if len(fields[0]) != 2 || len(fields[1]) != 4 {
		return Command{}, fmt.Errorf("%w: field sizes %d and %d", ErrMalformed, len(fields[0]), len(fields[1]))
	}
	cmd.Axis = int16(binary.LittleEndian.Uint16(fields[0]))
	cmd.Value = int32(binary.LittleEndian.Uint32(fields[1]))

	return cmd, nil
}

// DecodePositions reads n signed 16-bit positions from a positions reply
func DecodePositions(frame []byte, n int) ([]int32, error) {
	_, fields, err := split(frame)
	if err != nil {
		return nil, err
	}

	var payload []byte
	for _, f := range fields {
		payload = append(payload, f...)
	}
	if len(payload) < 2*n {
		return nil, fmt.Errorf("%w: need %d bytes for %d positions, got %d", ErrShortPayload, 2*n, n, len(payload))
	}

	positions := make([]int32, n)
	for i := range positions {
		positions[i] = int32(int16(binary.LittleEndian.Uint16(payload[2*i:])))
	}
	return positions, nil
}
