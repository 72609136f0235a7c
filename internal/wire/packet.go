// Package wire implements the TFTP wire codec: RFC 1350 packet framing
// plus the RFC 2347/2348/2349 option-extension packets (OACK).
//
// The codec is pure: it never touches a socket or a file. Every
// exported function either turns bytes into a Packet or a Packet into
// bytes.
package wire

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Opcode identifies which TFTP packet kind a Packet is: one of the
// five RFC 1350 kinds, or OACK.
type Opcode uint16

// Opcode constants, RFC 1350 §5 plus RFC 2347's OACK.
const (
	_ Opcode = iota
	OpRRQ
	OpWRQ
	OpDATA
	OpACK
	OpERROR
	OpOACK
)

func (o Opcode) String() string {
	switch o {
	case OpRRQ:
		return "RRQ"
	case OpWRQ:
		return "WRQ"
	case OpDATA:
		return "DATA"
	case OpACK:
		return "ACK"
	case OpERROR:
		return "ERROR"
	case OpOACK:
		return "OACK"
	default:
		return "Opcode(" + strconv.Itoa(int(o)) + ")"
	}
}

// Mode is the TFTP transfer mode carried by RRQ/WRQ.
type Mode uint8

// Mode constants. Mail is decodable but never served.
const (
	_ Mode = iota
	Octet
	NetASCII
	Mail
)

func (m Mode) String() string {
	switch m {
	case Octet:
		return "octet"
	case NetASCII:
		return "netascii"
	case Mail:
		return "mail"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

func parseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "octet":
		return Octet, true
	case "netascii":
		return NetASCII, true
	case "mail":
		return Mail, true
	default:
		return 0, false
	}
}

// ErrorCode is the 16-bit code carried by an ERROR packet (RFC 1350 §5).
type ErrorCode uint16

// ErrorCode constants.
const (
	ErrUndefined ErrorCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalOperation
	ErrUnknownTransferID
	ErrFileAlreadyExists
	ErrNoSuchUser
)

// Option is a single (name, value) pair from an RRQ/WRQ/OACK. Names are
// compared case-insensitively by callers; Value preserves the value as
// sent, Int reports whether it parsed as a decimal integer.
type Option struct {
	Name  string
	Value string
}

// Int parses Value as a decimal integer.
func (o Option) Int() (int, bool) {
	n, err := strconv.Atoi(o.Value)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Packet is a decoded TFTP packet. Only the fields relevant to Op are
// meaningful; the zero value of the rest is ignored by Encode.
type Packet struct {
	Op Opcode

	// RRQ / WRQ
	Filename string
	Mode     Mode
	Options  []Option

	// DATA / ACK
	Block uint16
	Data  []byte

	// ERROR
	ErrorCode    ErrorCode
	ErrorMessage string

	// OACK
	OACKOptions []Option
}

// Decode errors. Every malformed-input path returns one of these,
// never a panic. Callers (the listener, a session) are expected to
// drop the datagram silently rather than reply with an ERROR.
var (
	ErrShortPacket   = errors.New("tftp: packet too short")
	ErrUnknownOpcode = errors.New("tftp: unknown opcode")
	ErrBadString     = errors.New("tftp: missing or unterminated string field")
	ErrUnknownMode   = errors.New("tftp: unknown transfer mode")
)

var nul = []byte{0}

// Decode parses a raw UDP payload into a Packet.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return Packet{}, ErrShortPacket
	}
	op := Opcode(binary.BigEndian.Uint16(b[:2]))
	body := b[2:]

	switch op {
	case OpRRQ, OpWRQ:
		return decodeRequest(op, body)
	case OpDATA:
		return decodeData(body)
	case OpACK:
		return decodeACK(body)
	case OpERROR:
		return decodeError(body)
	case OpOACK:
		return decodeOACK(body)
	default:
		return Packet{}, ErrUnknownOpcode
	}
}

func readCString(b []byte) (s string, rest []byte, err error) {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		return "", nil, ErrBadString
	}
	return string(b[:i]), b[i+1:], nil
}

func decodeRequest(op Opcode, body []byte) (Packet, error) {
	filename, rest, err := readCString(body)
	if err != nil {
		return Packet{}, err
	}
	if filename == "" {
		return Packet{}, ErrBadString
	}
	modeStr, rest, err := readCString(rest)
	if err != nil {
		return Packet{}, err
	}
	mode, ok := parseMode(modeStr)
	if !ok {
		return Packet{}, ErrUnknownMode
	}
	opts, err := decodeOptionPairs(rest)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Op: op, Filename: filename, Mode: mode, Options: opts}, nil
}

func decodeOptionPairs(b []byte) ([]Option, error) {
	var opts []Option
	for len(b) > 0 {
		name, rest, err := readCString(b)
		if err != nil {
			return nil, err
		}
		value, rest2, err := readCString(rest)
		if err != nil {
			return nil, err
		}
		opts = append(opts, Option{Name: name, Value: value})
		b = rest2
	}
	return opts, nil
}

func decodeData(body []byte) (Packet, error) {
	if len(body) < 2 {
		return Packet{}, ErrShortPacket
	}
	block := binary.BigEndian.Uint16(body[:2])
	data := body[2:]
	cp := make([]byte, len(data))
	copy(cp, data)
	return Packet{Op: OpDATA, Block: block, Data: cp}, nil
}

func decodeACK(body []byte) (Packet, error) {
	if len(body) < 2 {
		return Packet{}, ErrShortPacket
	}
	return Packet{Op: OpACK, Block: binary.BigEndian.Uint16(body[:2])}, nil
}

func decodeError(body []byte) (Packet, error) {
	if len(body) < 2 {
		return Packet{}, ErrShortPacket
	}
	code := ErrorCode(binary.BigEndian.Uint16(body[:2]))
	msg, _, err := readCString(body[2:])
	if err != nil {
		return Packet{}, err
	}
	return Packet{Op: OpERROR, ErrorCode: code, ErrorMessage: msg}, nil
}

func decodeOACK(body []byte) (Packet, error) {
	opts, err := decodeOptionPairs(body)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Op: OpOACK, OACKOptions: opts}, nil
}

// Encode serialises p back to wire bytes by dispatching on p.Op to
// the per-kind encoders below, which the server also calls directly.
// RRQ/WRQ encoding exists purely so tests can build client-shaped
// fixtures; decode(encode(p)) == p for every kind.
func Encode(p Packet) []byte {
	switch p.Op {
	case OpRRQ, OpWRQ:
		return encodeRequest(p)
	case OpDATA:
		return EncodeData(p.Block, p.Data)
	case OpACK:
		return EncodeACK(p.Block)
	case OpERROR:
		return EncodeError(p.ErrorCode, p.ErrorMessage)
	case OpOACK:
		return EncodeOACK(p.OACKOptions)
	default:
		return nil
	}
}

func encodeRequest(p Packet) []byte {
	buf := &bytes.Buffer{}
	writeUint16(buf, uint16(p.Op))
	buf.WriteString(p.Filename)
	buf.Write(nul)
	buf.WriteString(p.Mode.String())
	buf.Write(nul)
	writeOptionPairs(buf, p.Options)
	return buf.Bytes()
}

func writeOptionPairs(buf *bytes.Buffer, opts []Option) {
	for _, o := range opts {
		buf.WriteString(o.Name)
		buf.Write(nul)
		buf.WriteString(o.Value)
		buf.Write(nul)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// EncodeData builds a DATA packet: opcode, 2-byte block number, payload.
func EncodeData(block uint16, data []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+len(data)))
	writeUint16(buf, uint16(OpDATA))
	writeUint16(buf, block)
	buf.Write(data)
	return buf.Bytes()
}

// EncodeACK builds an ACK packet: opcode, 2-byte block number.
func EncodeACK(block uint16) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4))
	writeUint16(buf, uint16(OpACK))
	writeUint16(buf, block)
	return buf.Bytes()
}

// EncodeError builds an ERROR packet: opcode, 2-byte code, NUL-terminated message.
func EncodeError(code ErrorCode, message string) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+len(message)+1))
	writeUint16(buf, uint16(OpERROR))
	writeUint16(buf, uint16(code))
	buf.WriteString(message)
	buf.Write(nul)
	return buf.Bytes()
}

// EncodeOACK builds an OACK packet: opcode followed by (name NUL value NUL) pairs.
func EncodeOACK(opts []Option) []byte {
	buf := &bytes.Buffer{}
	writeUint16(buf, uint16(OpOACK))
	writeOptionPairs(buf, opts)
	return buf.Bytes()
}
