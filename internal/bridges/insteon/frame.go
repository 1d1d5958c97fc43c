package insteon

import (
	"bufio"
	"fmt"
	"io"
)

// PowerLinc Modem serial framing. Every frame starts with STX followed by a
// message type byte; the type fixes the frame length.
const (
	plmSTX = 0x02
	plmACK = 0x06
	plmNAK = 0x15

	plmStandardReceived = 0x50
	plmExtendedReceived = 0x51
	plmSendMessage      = 0x62

	// Flags for a direct standard message with max hops 3.
	plmDirectFlags = 0x0F

	// Bit set in the send flags for an extended message.
	plmExtendedFlag = 0x10

	plmStandardEchoLen = 9
	plmExtendedEchoLen = 23
)

// Insteon message type, bits 7-5 of the flags byte.
const (
	msgTypeMask         = 0xE0
	msgDirect           = 0x00
	msgDirectACK        = 0x20
	msgAllLinkCleanup   = 0x40
	msgCleanupACK       = 0x60
	msgBroadcast        = 0x80
	msgDirectNAK        = 0xA0
	msgAllLinkBroadcast = 0xC0
	msgCleanupNAK       = 0xE0
)

// Insteon standard command bytes (cmd1).
const (
	cmdOn                = 0x11
	cmdOnFast            = 0x12
	cmdOff               = 0x13
	cmdOffFast           = 0x14
	cmdBrighten          = 0x15
	cmdDim               = 0x16
	cmdStartManualChange = 0x17
	cmdStopManualChange  = 0x18
	cmdStatusRequest     = 0x19
)

// plmFrameLengths is the total frame length by message type, including the
// STX and type bytes. 0x62 is the standard echo length; extended echoes are
// detected from the flags byte.
var plmFrameLengths = map[byte]int{
	0x50: 11, 0x51: 25, 0x52: 4, 0x53: 10, 0x54: 3, 0x55: 2, 0x56: 7, 0x57: 10, 0x58: 3,
	0x60: 9, 0x61: 6, 0x62: plmStandardEchoLen, 0x64: 5, 0x65: 3, 0x66: 6, 0x67: 3,
	0x68: 4, 0x69: 3, 0x6A: 3, 0x6B: 4, 0x6C: 3, 0x6D: 3, 0x6E: 3, 0x6F: 12,
	0x70: 4, 0x71: 5, 0x72: 3, 0x73: 6,
}

type commandCode struct {
	cmd1 byte
	cmd2 byte
}

// commandCodes maps labels to standard direct commands.
var commandCodes = map[string]commandCode{
	LabelOn:           {cmdOn, 0xFF},
	LabelOnFast:       {cmdOnFast, 0xFF},
	LabelOff:          {cmdOff, 0x00},
	LabelOffFast:      {cmdOffFast, 0x00},
	LabelBrighten:     {cmdBrighten, 0x00},
	LabelDim:          {cmdDim, 0x00},
	LabelDimStop:      {cmdStopManualChange, 0x00},
	LabelBrightenStop: {cmdStopManualChange, 0x00},
	LabelStatus:       {cmdStatusRequest, 0x00},
}

// lampRange is the on-level range carried in cmd2.
var lampRange = Range{Min: 0, Max: 255}

// percentRange is the normalized level range accepted in Command.Level.
var percentRange = Range{Min: 0, Max: 100}

// encodeSend builds the 0x62 frame for a command. An explicit level on an
// "on" or "dim" command becomes an on-at-level.
func encodeSend(cmd Command) ([]byte, error) {
	addr, err := ParseAddress(cmd.Address)
	if err != nil {
		return nil, err
	}

	code, ok := commandCodes[cmd.Label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Label)
	}

	if cmd.Level != nil && (cmd.Label == LabelOn || cmd.Label == LabelDim) {
		raw, err := Translate(*cmd.Level, percentRange, lampRange)
		if err != nil {
			return nil, err
		}
		code = commandCode{cmdOn, byte(raw + 0.5)}
	}

	return []byte{plmSTX, plmSendMessage, addr[0], addr[1], addr[2], plmDirectFlags, code.cmd1, code.cmd2}, nil
}

// plmFrame is one decoded frame from the modem.
type plmFrame struct {
	msgType byte
	body    []byte // bytes after the type byte
}

// echo describes a 0x62 echo: the modem's ACK or NAK of a sent command.
type plmEcho struct {
	address Address
	cmd1    byte
	ack     bool
}

func (f plmFrame) echo() (plmEcho, bool) {
	if f.msgType != plmSendMessage || len(f.body) < plmStandardEchoLen-2 {
		return plmEcho{}, false
	}
	return plmEcho{
		address: Address{f.body[0], f.body[1], f.body[2]},
		cmd1:    f.body[4],
		ack:     f.body[len(f.body)-1] == plmACK,
	}, true
}

// standardMessage is a received 0x50 message.
type standardMessage struct {
	from  Address
	to    Address
	flags byte
	cmd1  byte
	cmd2  byte
}

func (m standardMessage) messageType() byte {
	return m.flags & msgTypeMask
}

func (f plmFrame) standard() (standardMessage, bool) {
	if f.msgType != plmStandardReceived || len(f.body) != 9 {
		return standardMessage{}, false
	}
	b := f.body
	return standardMessage{
		from:  Address{b[0], b[1], b[2]},
		to:    Address{b[3], b[4], b[5]},
		flags: b[6],
		cmd1:  b[7],
		cmd2:  b[8],
	}, true
}

// frameReader splits the modem byte stream into frames, resynchronizing on
// STX after garbage or unknown message types.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// next returns the next complete frame. Read errors are returned as-is.
func (fr *frameReader) next() (plmFrame, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return plmFrame{}, err
		}
		if b != plmSTX {
			continue
		}

		msgType, err := fr.r.ReadByte()
		if err != nil {
			return plmFrame{}, err
		}

		length, known := plmFrameLengths[msgType]
		if !known {
			if msgType == plmSTX {
				_ = fr.r.UnreadByte() //nolint:errcheck // just read, cannot fail
			}
			continue
		}

		body := make([]byte, length-2)
		if _, err := io.ReadFull(fr.r, body); err != nil {
			return plmFrame{}, err
		}

		if msgType == plmSendMessage && body[3]&plmExtendedFlag != 0 {
			rest := make([]byte, plmExtendedEchoLen-plmStandardEchoLen)
			if _, err := io.ReadFull(fr.r, rest); err != nil {
				return plmFrame{}, err
			}
			body = append(body, rest...)
		}

		return plmFrame{msgType: msgType, body: body}, nil
	}
}
