// Package command implements a single request/response exchange over
// the bulk transport, framed with the frame package: write the framed
// command, read the reply within a timeout, decode it, check whether
// it succeeded.
package command

import (
	"time"

	"github.com/bigbag/axdl-flasher/internal/bsl/frame"
)

// maxReplyBytes is the largest reply the BSL is ever expected to send in
// one read.
const maxReplyBytes = 512

// Transport is the subset of transport.Bulk the command client needs.
// Kept as an interface so stage/flash drivers and tests can substitute a
// fake wire without pulling in gousb.
type Transport interface {
	Write(data []byte, timeout time.Duration) (int, error)
	Read(buf []byte, timeout time.Duration) (int, error)
}

// Client performs one framed command/reply exchange at a time over a
// Transport. It holds no protocol state of its own; the stage and flash
// drivers sequence calls.
type Client struct {
	t Transport
}

// New wraps t in a command Client.
func New(t Transport) *Client {
	return &Client{t: t}
}

// Call writes a framed command packet and reads up to 512 bytes from the
// IN endpoint within readTimeout, returning the decoded reply. ok is
// false if the write failed, the read timed out, or the reply did not
// decode as a valid frame.
func (c *Client) Call(command byte, payload []byte, readTimeout time.Duration) (reply frame.Frame, ok bool) {
	encoded := frame.Encode(command, payload)
	if _, err := c.t.Write(encoded, readTimeout); err != nil {
		return frame.Frame{}, false
	}

	buf := make([]byte, maxReplyBytes)
	n, err := c.t.Read(buf, readTimeout)
	if err != nil || n == 0 {
		return frame.Frame{}, false
	}

	return frame.Decode(buf[:n])
}

// ExpectAck performs Call and reports true iff the reply decoded and its
// command byte equals ACK.
func (c *Client) ExpectAck(command byte, payload []byte, readTimeout time.Duration) bool {
	reply, ok := c.Call(command, payload, readTimeout)
	return ok && reply.Command == frame.ReplyAck
}
