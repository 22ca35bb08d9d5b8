// Package handshake implements the fixed-size header protocol the
// Supervisor and the container-init grandchild exchange over a
// SOCK_STREAM socketpair (§4.G "Handshake protocol"). Every message is a
// header (kind + payload length) optionally followed by a raw payload;
// there is no framing beyond that, mirroring struct cmd from the
// original sources.
package handshake

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind enumerates the five message kinds the protocol defines.
type Kind uint8

const (
	KindNone Kind = iota
	KindForkClient
	KindClientPID
	KindClientReparent
	KindClientReady
	KindClientExec
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "CMD_NONE"
	case KindForkClient:
		return "CMD_FORK_CLIENT"
	case KindClientPID:
		return "CMD_CLIENT_PID"
	case KindClientReparent:
		return "CMD_CLIENT_REPARENT"
	case KindClientReady:
		return "CMD_CLIENT_READY"
	case KindClientExec:
		return "CMD_CLIENT_EXEC"
	default:
		return "UNKNOWN"
	}
}

// header is {kind uint8, _pad [7]byte, payload_len uint64} — a fixed
// 16-byte record kept explicit (rather than relying on struct layout)
// since it crosses a process boundary.
const headerSize = 16

// Send writes a header followed by payload (which may be nil/empty) to
// w (§4.G "Message wire format").
func Send(w io.Writer, kind Kind, payload []byte) error {
	var hdr [headerSize]byte
	hdr[0] = byte(kind)
	binary.LittleEndian.PutUint64(hdr[8:], uint64(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("send_cmd(kind=%s): write header: %w", kind, err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("send_cmd(kind=%s): write data: %w", kind, err)
		}
	}
	return nil
}

// Message is a fully-read header plus its payload.
type Message struct {
	Kind    Kind
	Payload []byte
}

// Recv reads one full message from r.
func Recv(r io.Reader) (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, fmt.Errorf("recv_cmd: read header: %w", err)
	}

	kind := Kind(hdr[0])
	length := binary.LittleEndian.Uint64(hdr[8:])

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("recv_cmd(kind=%s): read data: %w", kind, err)
		}
	}

	return Message{Kind: kind, Payload: payload}, nil
}

// Expect reads one message and errors unless it is of kind want,
// matching recv_cmd's strict kind check.
func Expect(r io.Reader, want Kind) error {
	msg, err := Recv(r)
	if err != nil {
		return err
	}
	if msg.Kind != want {
		return fmt.Errorf("recv_cmd(cmd=%s): got unexpected command %s", want, msg.Kind)
	}
	return nil
}

// SendPID encodes a pid as the fixed-width payload of a CMD_CLIENT_PID
// message (the original transfers a raw pid_t; Go uses a stable 8-byte
// little-endian int64 across the socket instead of OS-dependent C int
// width).
func SendPID(w io.Writer, pid int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(pid))
	return Send(w, KindClientPID, buf[:])
}

// RecvPID reads a CMD_CLIENT_PID message and decodes its payload.
func RecvPID(r io.Reader) (int, error) {
	msg, err := Recv(r)
	if err != nil {
		return 0, err
	}
	if msg.Kind != KindClientPID {
		return 0, fmt.Errorf("recv_cmd(cmd=%s): got unexpected command %s", KindClientPID, msg.Kind)
	}
	if len(msg.Payload) != 8 {
		return 0, fmt.Errorf("unexpected data length")
	}
	return int(binary.LittleEndian.Uint64(msg.Payload)), nil
}
