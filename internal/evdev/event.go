package evdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RawEvent mirrors struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type RawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// EventSize is the encoded size of a RawEvent.
var EventSize = binary.Size(RawEvent{})

// Decoder reads RawEvents from a byte stream, reusing one buffer.
type Decoder struct {
	buf    []byte
	reader *bytes.Reader
}

// NewDecoder returns a decoder.
func NewDecoder() *Decoder {
	buf := make([]byte, EventSize)
	return &Decoder{buf: buf, reader: bytes.NewReader(buf)}
}

// Decode parses one event from b, which must hold exactly EventSize bytes.
func (d *Decoder) Decode(b []byte) (RawEvent, error) {
	if len(b) != EventSize {
		return RawEvent{}, fmt.Errorf("input event: got %d bytes, want %d", len(b), EventSize)
	}
	copy(d.buf, b)
	d.reader.Reset(d.buf)
	var ev RawEvent
	if err := binary.Read(d.reader, binary.LittleEndian, &ev); err != nil {
		return RawEvent{}, fmt.Errorf("input event: %w", err)
	}
	return ev, nil
}

// DecodeAll parses every whole event in b; a trailing partial event is
// reported as an error after the events before it.
func (d *Decoder) DecodeAll(b []byte) ([]RawEvent, error) {
	n := len(b) / EventSize
	out := make([]RawEvent, 0, n)
	for i := 0; i < n; i++ {
		ev, err := d.Decode(b[i*EventSize : (i+1)*EventSize])
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	if len(b)%EventSize != 0 {
		return out, fmt.Errorf("input event: %d trailing bytes", len(b)%EventSize)
	}
	return out, nil
}

// Write encodes events to w in one write.
func Write(w io.Writer, events ...RawEvent) error {
	var buf bytes.Buffer
	buf.Grow(len(events) * EventSize)
	for _, ev := range events {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Syn is a SYN_REPORT event.
func Syn() RawEvent {
	return RawEvent{Type: EV_SYN, Code: SYN_REPORT}
}
