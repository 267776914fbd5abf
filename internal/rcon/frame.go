package rcon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types. Requests and responses share the numeric space, so 2 means
// "execute command" client->server and "auth response" server->client.
// Some servers answer auth with TypeResponseValue instead; Authenticate
// accepts both.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

const (
	// headerLen covers id + type; the length prefix itself is not counted.
	headerLen = 8
	// minFrameLength is an empty payload: id + type + two terminator bytes.
	minFrameLength = headerLen + 2
	// DefaultMaxFrameLength fits a 4096 character response fragment even when
	// every character takes four bytes once UTF-8 encoded.
	DefaultMaxFrameLength = 4*4096 + minFrameLength
	// MaxCommandLength is the largest payload the server accepts in one request.
	MaxCommandLength = 1446
)

// Frame is one length-prefixed RCON packet.
type Frame struct {
	ID   int32
	Type int32
	Body string
}

// Encode serializes f as: int32 length | int32 id | int32 type | body | 0x00 0x00.
func Encode(f Frame) []byte {
	length := minFrameLength + len(f.Body)
	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(f.ID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.Type))
	copy(buf[12:], f.Body)
	// trailing two bytes are already zero
	return buf
}

type decodeState int

const (
	awaitingHeader decodeState = iota
	awaitingBody
)

func (s decodeState) String() string {
	switch s {
	case awaitingHeader:
		return "awaiting_header"
	case awaitingBody:
		return "awaiting_body"
	default:
		return "unknown"
	}
}

// Decoder reassembles frames from a byte stream. It handles frames split
// across reads and several frames arriving in a single read.
type Decoder struct {
	r      io.Reader
	maxLen int

	buf   []byte
	state decodeState
	need  int // body length once the header has been read
	chunk []byte
}

// NewDecoder returns a Decoder reading from r. maxLen <= 0 selects DefaultMaxFrameLength.
func NewDecoder(r io.Reader, maxLen int) *Decoder {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrameLength
	}
	return &Decoder{r: r, maxLen: maxLen, chunk: make([]byte, 4096)}
}

// Next blocks until a complete frame is buffered and returns it. Length
// violations and missing terminators return an error wrapping ErrProtocol.
// Read failures are returned unwrapped so the caller can classify them.
func (d *Decoder) Next() (Frame, error) {
	for {
		f, ok, err := d.step()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			continue
		}
		if err != nil {
			return Frame{}, err
		}
	}
}

// step advances the state machine over buffered bytes without reading.
func (d *Decoder) step() (Frame, bool, error) {
	for {
		switch d.state {
		case awaitingHeader:
			if len(d.buf) < 4 {
				return Frame{}, false, nil
			}
			length := int(int32(binary.LittleEndian.Uint32(d.buf[0:4])))
			if length < minFrameLength || length > d.maxLen {
				return Frame{}, false, fmt.Errorf("%w: frame length %d outside [%d, %d]", ErrProtocol, length, minFrameLength, d.maxLen)
			}
			d.buf = d.buf[4:]
			d.need = length
			d.state = awaitingBody
		case awaitingBody:
			if len(d.buf) < d.need {
				return Frame{}, false, nil
			}
			body := d.buf[:d.need]
			d.buf = d.buf[d.need:]
			d.state = awaitingHeader
			if body[d.need-1] != 0 || body[d.need-2] != 0 {
				return Frame{}, false, fmt.Errorf("%w: missing frame terminator", ErrProtocol)
			}
			f := Frame{
				ID:   int32(binary.LittleEndian.Uint32(body[0:4])),
				Type: int32(binary.LittleEndian.Uint32(body[4:8])),
				Body: string(body[headerLen : d.need-2]),
			}
			return f, true, nil
		}
	}
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
