//go:build linux
// +build linux

package ctlsock

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

const (
	// headerLen is the length of a netlink message header.
	headerLen = 16

	// bufferSize bounds one packet. Scan results are the largest payload.
	bufferSize = 1 << 18
)

var (
	_ netlink.Socket = &Socket{}

	errShortMessage = errors.New("ctlsock: short netlink message")
)

func align(n int) int { return (n + 3) &^ 3 }

// frame pads m's payload and sets its length.
func frame(m netlink.Message) netlink.Message {
	if pad := align(len(m.Data)) - len(m.Data); pad > 0 {
		m.Data = append(m.Data[:len(m.Data):len(m.Data)], make([]byte, pad)...)
	}
	m.Header.Length = uint32(headerLen + len(m.Data))
	return m
}

// marshalMessages packs msgs into one packet.
func marshalMessages(msgs []netlink.Message) ([]byte, error) {
	var b []byte
	for _, m := range msgs {
		mb, err := frame(m).MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = append(b, mb...)
	}

	return b, nil
}

// parseMessages unpacks every netlink message in one packet.
func parseMessages(b []byte) ([]netlink.Message, error) {
	var msgs []netlink.Message
	for len(b) > 0 {
		if len(b) < headerLen {
			return nil, errShortMessage
		}

		l := int(nlenc.Uint32(b[0:4]))
		if l < headerLen || l > len(b) {
			return nil, fmt.Errorf("%w: length %d, %d bytes remain", errShortMessage, l, len(b))
		}

		// Copy so the message outlives the read buffer.
		mb := append([]byte(nil), b[:l]...)
		var m netlink.Message
		if err := m.UnmarshalBinary(mb); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)

		if n := align(l); n < len(b) {
			b = b[n:]
		} else {
			b = nil
		}
	}

	return msgs, nil
}

// A Socket is the client end of a control socket connection. It implements
// netlink.Socket, so it may be wrapped with netlink.NewConn and
// genetlink.NewConn.
type Socket struct {
	c   *net.UnixConn
	buf []byte
}

// Dial connects to the control socket at path.
func Dial(path string) (*Socket, error) {
	c, err := net.DialUnix("unixpacket", nil, &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}

	return &Socket{c: c, buf: make([]byte, bufferSize)}, nil
}

// Close implements netlink.Socket.
func (s *Socket) Close() error { return s.c.Close() }

// Send implements netlink.Socket.
func (s *Socket) Send(m netlink.Message) error {
	return s.SendMessages([]netlink.Message{m})
}

// SendMessages implements netlink.Socket. All messages travel in one packet.
func (s *Socket) SendMessages(msgs []netlink.Message) error {
	b, err := marshalMessages(msgs)
	if err != nil {
		return err
	}

	_, err = s.c.Write(b)
	return err
}

// Receive implements netlink.Socket.
func (s *Socket) Receive() ([]netlink.Message, error) {
	n, err := s.c.Read(s.buf)
	if err != nil {
		return nil, err
	}

	return parseMessages(s.buf[:n])
}

// JoinGroup subscribes the connection to a multicast group.
func (s *Socket) JoinGroup(group uint32) error {
	return s.group(unix.CTRL_CMD_NEWMCAST_GRP, group)
}

// LeaveGroup unsubscribes the connection from a multicast group.
func (s *Socket) LeaveGroup(group uint32) error {
	return s.group(unix.CTRL_CMD_DELMCAST_GRP, group)
}

// group sends a membership change to the controller. No acknowledgement is
// requested: the server applies it before reading the next request, and an
// acknowledgement could be mistaken for a notification.
func (s *Socket) group(cmd uint8, group uint32) error {
	m, err := controlMessage(cmd, func(ae *netlink.AttributeEncoder) {
		encodeGroup(ae, group)
	})
	if err != nil {
		return err
	}
	m.Header.Flags = netlink.Request

	return s.Send(m)
}

// SetDeadline sets the read and write deadlines of the connection.
func (s *Socket) SetDeadline(t time.Time) error { return s.c.SetDeadline(t) }

// SetReadDeadline sets the read deadline of the connection.
func (s *Socket) SetReadDeadline(t time.Time) error { return s.c.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline of the connection.
func (s *Socket) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }
