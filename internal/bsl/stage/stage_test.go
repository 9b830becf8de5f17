package stage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/axdl-flasher/internal/bsl/frame"
)

// scriptedTransport replays a fixed sequence of replies to successive
// Read calls and records every Write, mirroring the realistic mock
// device pattern from moffa90/go-cyacd's examples/mock_device.
type scriptedTransport struct {
	writes  [][]byte
	replies [][]byte
}

func (s *scriptedTransport) Write(data []byte, _ time.Duration) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), data...))
	return len(data), nil
}

func (s *scriptedTransport) Read(buf []byte, _ time.Duration) (int, error) {
	if len(s.replies) == 0 {
		return 0, nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return copy(buf, reply), nil
}

func ackReply() []byte { return frame.Encode(frame.ReplyAck, nil) }

func TestHandshake_SucceedsOnFirstTry(t *testing.T) {
	st := &scriptedTransport{
		replies: [][]byte{frame.Encode(frame.ReplyVersion, []byte("SPRD4.0 secureboot"))},
	}
	d := New(st, nil)

	version := d.Handshake(ROM)
	require.Equal(t, "SPRD4.0 secureboot", version)

	require.Len(t, st.writes, 1)
	assert.Equal(t, []byte{0x3C, 0x3C, 0x3C}, st.writes[0])
}

func TestHandshake_RetriesThenSucceeds(t *testing.T) {
	st := &scriptedTransport{
		replies: [][]byte{
			nil, // timeout
			nil, // timeout
			frame.Encode(frame.ReplyVersion, []byte("ok")),
		},
	}
	d := New(st, nil)

	version := d.Handshake(ROM)
	assert.Equal(t, "ok", version)
	assert.Equal(t, 3, len(st.writes))
}

func TestHandshake_ExhaustsRetries(t *testing.T) {
	st := &scriptedTransport{}
	d := New(st, nil)

	version := d.Handshake(ROM)
	assert.Equal(t, "", version)
	assert.Equal(t, handshakeRetries, len(st.writes))
}

func TestConnect_RequiresAck(t *testing.T) {
	st := &scriptedTransport{replies: [][]byte{ackReply()}}
	d := New(st, nil)
	assert.True(t, d.Connect())
}

func TestConnect_RejectsNonAck(t *testing.T) {
	st := &scriptedTransport{replies: [][]byte{frame.Encode(frame.ReplyVersion, nil)}}
	d := New(st, nil)
	assert.False(t, d.Connect())
}

func TestDownloadLoader_ExactMultipleOfChunkSize(t *testing.T) {
	// A blob whose size is an exact multiple of loaderChunkSize must still
	// end with a single ENDED_DATA, never an extra empty MIDST_DATA.
	blob := bytes.Repeat([]byte{0xAB}, loaderChunkSize*2)

	st := &scriptedTransport{replies: [][]byte{
		ackReply(), // START_DATA
		ackReply(), // MIDST_DATA header, chunk 1
		ackReply(), // MIDST_DATA body, chunk 1
		ackReply(), // MIDST_DATA header, chunk 2
		ackReply(), // MIDST_DATA body, chunk 2
		ackReply(), // ENDED_DATA
		ackReply(), // EXEC_DATA
	}}
	d := New(st, nil)

	err := d.DownloadLoader(FDL1, bytes.NewReader(blob), 0x03000000)
	require.NoError(t, err)

	// 1 START + 2*(header+body) + 1 ENDED + 1 EXEC = 7 writes, no trailing
	// empty chunk.
	assert.Equal(t, 7, len(st.writes))

	startCmd, startPayload := decodeFrame(t, st.writes[0])
	assert.Equal(t, frame.CmdStartData, startCmd)
	assert.Equal(t, 8, len(startPayload)) // FDL1 32-bit header

	lastCmd, _ := decodeFrame(t, st.writes[5])
	assert.Equal(t, frame.CmdEndedData, lastCmd)
	execCmd, _ := decodeFrame(t, st.writes[6])
	assert.Equal(t, frame.CmdExecData, execCmd)
}

func TestStartDataPayload_FDL1(t *testing.T) {
	blob := bytes.Repeat([]byte{0x00}, 0x1234)
	sd, err := startDataPayload(FDL1, bytes.NewReader(blob), 0x03000000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x03, 0x34, 0x12, 0x00, 0x00}, sd.header)
}

func TestStartDataPayload_FDL2(t *testing.T) {
	blob := bytes.Repeat([]byte{0x00}, 0x100)
	sd, err := startDataPayload(FDL2, bytes.NewReader(blob), 0x5C00000000000000)
	require.NoError(t, err)
	require.Len(t, sd.header, 16)
	assert.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5C,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}, sd.header)
}

func decodeFrame(t *testing.T, b []byte) (byte, []byte) {
	t.Helper()
	f, ok := frame.Decode(b)
	require.True(t, ok, "expected a well-formed frame, got % X", b)
	return f.Command, f.Payload
}
