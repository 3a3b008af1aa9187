// Package osc implements the subset of Open Sound Control used by showctl: messages with an
// address and s/i/f arguments, a bounded packet queue and a UDP server.
package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed is matched by every decoding error.
var ErrMalformed = errors.New("malformed OSC message")

// MalformedError describes where decoding stopped.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed OSC message at byte %d: %s", e.Offset, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

// Message is a single OSC message. Arguments hold string, int32 or float32 values.
type Message struct {
	Address   string
	Arguments []any
}

// NewMessage is a convenience constructor mirroring go-osc's.
func NewMessage(addr string, args ...any) Message {
	return Message{Address: addr, Arguments: args}
}

// MarshalBinary encodes the message.
func (m Message) MarshalBinary() ([]byte, error) {
	return Encode(m.Address, m.Arguments...)
}

// TypeTags returns the type tag string including the leading comma, or "" for no arguments.
func (m Message) TypeTags() (string, error) {
	if len(m.Arguments) == 0 {
		return "", nil
	}
	tags := []byte{','}
	for _, a := range m.Arguments {
		t, err := tagOf(a)
		if err != nil {
			return "", err
		}
		tags = append(tags, t)
	}
	return string(tags), nil
}

func (m Message) String() string {
	if len(m.Arguments) == 0 {
		return m.Address
	}
	parts := make([]string, 0, len(m.Arguments))
	for _, a := range m.Arguments {
		switch v := a.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%q", v))
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return m.Address + " " + strings.Join(parts, " ")
}

// padded returns n rounded up to the next multiple of 4.
func padded(n int) int {
	return (n + 3) &^ 3
}

// readString reads a NUL-terminated, 4-byte padded string starting at off.
// It returns the string and the offset just past its padding.
func readString(b []byte, off int) (string, int, bool) {
	if off >= len(b) {
		return "", off, false
	}
	end := bytes.IndexByte(b[off:], 0)
	if end == -1 {
		return "", off, false
	}
	s := string(b[off : off+end])
	next := padded(off + end + 1)
	if next > len(b) {
		// Trailing padding may be cut short; the string itself is intact.
		next = len(b)
	}
	return s, next, true
}

// Decode parses a single OSC message.
//
// When the buffer is truncated or otherwise invalid, the returned Message still carries the
// address and every argument decoded before the problem, together with a *MalformedError.
// Unknown type tags end argument parsing without an error.
func Decode(b []byte) (Message, error) {
	var msg Message

	addr, off, ok := readString(b, 0)
	if !ok {
		return msg, &MalformedError{Offset: 0, Reason: "address is not NUL terminated"}
	}
	msg.Address = addr
	if off >= len(b) {
		return msg, nil
	}
	if b[off] != ',' {
		return msg, &MalformedError{Offset: off, Reason: "type tags must start with ','"}
	}
	tags, off, ok := readString(b, off)
	if !ok {
		return msg, &MalformedError{Offset: off, Reason: "type tags are not NUL terminated"}
	}

	for _, tag := range tags[1:] {
		switch tag {
		case 's':
			s, next, ok := readString(b, off)
			if !ok {
				return msg, &MalformedError{Offset: off, Reason: "string argument is truncated"}
			}
			msg.Arguments = append(msg.Arguments, s)
			off = next
		case 'i':
			if off+4 > len(b) {
				return msg, &MalformedError{Offset: off, Reason: "int32 argument is truncated"}
			}
			msg.Arguments = append(msg.Arguments, int32(binary.BigEndian.Uint32(b[off:off+4])))
			off += 4
		case 'f':
			if off+4 > len(b) {
				return msg, &MalformedError{Offset: off, Reason: "float32 argument is truncated"}
			}
			msg.Arguments = append(msg.Arguments, math.Float32frombits(binary.BigEndian.Uint32(b[off:off+4])))
			off += 4
		default:
			return msg, nil
		}
	}
	return msg, nil
}

func tagOf(a any) (byte, error) {
	switch a.(type) {
	case string:
		return 's', nil
	case int32, int, int64:
		return 'i', nil
	case float32, float64:
		return 'f', nil
	default:
		return 0, fmt.Errorf("unsupported OSC argument type %T", a)
	}
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// Encode builds the wire form of a message. With no arguments only the padded address is
// written.
func Encode(address string, args ...any) ([]byte, error) {
	if strings.IndexByte(address, 0) != -1 {
		return nil, fmt.Errorf("OSC address %q contains a NUL byte", address)
	}
	buf := appendString(make([]byte, 0, padded(len(address)+1)+8*len(args)), address)
	if len(args) == 0 {
		return buf, nil
	}

	tags, err := Message{Arguments: args}.TypeTags()
	if err != nil {
		return nil, err
	}
	buf = appendString(buf, tags)

	for _, a := range args {
		switch v := a.(type) {
		case string:
			if strings.IndexByte(v, 0) != -1 {
				return nil, fmt.Errorf("OSC string argument %q contains a NUL byte", v)
			}
			buf = appendString(buf, v)
		case int32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("OSC int argument %d overflows int32", v)
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(v)))
		case int64:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("OSC int argument %d overflows int32", v)
			}
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(v)))
		case float32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		case float64:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
	}
	return buf, nil
}
