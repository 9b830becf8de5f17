// Package stage implements the ROM → FDL1 → FDL2 progression: the raw
// handshake sentinel, CONNECT, and the chunked loader-download-and-
// execute sequence shared by every generation. The shape is a retry
// loop around a raw probe, then framed commands with per-step timeouts.
package stage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
	"github.com/bigbag/axdl-flasher/internal/bsl/command"
	"github.com/bigbag/axdl-flasher/internal/bsl/frame"
)

// Generation names the BSL's three loader generations (ROM, FDL1, FDL2)
// plus EIP, the blob downloaded before FDL1 on secure-boot devices.
type Generation int

const (
	ROM Generation = iota
	FDL1
	FDL2
	EIP
)

func (g Generation) String() string {
	switch g {
	case ROM:
		return "ROM"
	case FDL1:
		return "FDL1"
	case FDL2:
		return "FDL2"
	case EIP:
		return "EIP"
	default:
		return "unknown"
	}
}

const (
	handshakeSentinel = 0x3C
	handshakeRetries  = 10
	handshakeSettle   = 100 * time.Millisecond
	handshakeTimeout  = 2 * time.Second

	loaderChunkSize = 1000
)

// Transport is the byte-level dependency of the stage driver. It is the
// same interface the command client uses: the unframed handshake
// sentinel and raw chunk bodies go through the same Write.
type Transport interface {
	command.Transport
}

// Driver sequences the ROM/FDL1/FDL2 progression over a transport.
type Driver struct {
	t   Transport
	cli *command.Client
	log *logrus.Logger
}

// New builds a Driver over t.
func New(t Transport, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.New()
	}
	return &Driver{t: t, cli: command.New(t), log: log}
}

// Handshake writes three raw 0x3C bytes with no framing, waits for the
// device to settle, then reads up to 512 bytes expecting a VERSION
// frame. It retries up to handshakeRetries times; an empty return means
// every attempt was exhausted.
func (d *Driver) Handshake(label Generation) string {
	sentinel := []byte{handshakeSentinel, handshakeSentinel, handshakeSentinel}
	buf := make([]byte, 512)

	for attempt := 1; attempt <= handshakeRetries; attempt++ {
		if _, err := d.t.Write(sentinel, handshakeTimeout); err != nil {
			d.log.WithError(err).WithField("stage", label).Debug("bsl: handshake write failed")
			continue
		}
		time.Sleep(handshakeSettle)

		n, err := d.t.Read(buf, handshakeTimeout)
		if err != nil || n == 0 {
			d.log.WithFields(logrus.Fields{"stage": label, "attempt": attempt}).Debug("bsl: handshake no reply")
			continue
		}

		reply, ok := frame.Decode(buf[:n])
		if !ok || reply.Command != frame.ReplyVersion {
			continue
		}

		version := decodeVersionText(reply.Payload)
		d.log.WithFields(logrus.Fields{"stage": label, "version": version}).Debug("bsl: handshake ok")
		return version
	}

	d.log.WithField("stage", label).Warn("bsl: handshake exhausted retries")
	return ""
}

// decodeVersionText decodes payload as a best-effort text banner,
// trimming a trailing NUL run if present.
func decodeVersionText(payload []byte) string {
	trimmed := bytes.TrimRight(payload, "\x00")
	return string(trimmed)
}

// Connect sends a framed CONNECT with an empty payload; success is an
// ACK reply.
func (d *Driver) Connect() bool {
	return d.cli.ExpectAck(frame.CmdConnect, nil, handshakeTimeout)
}

// DownloadLoader streams the loader blob in blob into device memory at
// baseAddr and transfers execution to it: START_DATA, per-chunk
// MIDST_DATA with ACK, ENDED_DATA, EXEC_DATA.
func (d *Driver) DownloadLoader(stage Generation, blob io.Reader, baseAddr uint64) error {
	startPayload, err := startDataPayload(stage, blob, baseAddr)
	if err != nil {
		return bslerr.Step(stage.String(), "prepare START_DATA", err)
	}

	if !d.cli.ExpectAck(frame.CmdStartData, startPayload.header, 5*time.Second) {
		return bslerr.Step(stage.String(), "START_DATA", bslerr.ErrWrongReply)
	}

	chunk := make([]byte, loaderChunkSize)
	for {
		n, rerr := io.ReadFull(startPayload.body, chunk)
		if n > 0 {
			if err := d.sendChunk(stage, chunk[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return bslerr.Step(stage.String(), "read loader blob", rerr)
		}
	}

	if !d.cli.ExpectAck(frame.CmdEndedData, nil, 5*time.Second) {
		return bslerr.Step(stage.String(), "ENDED_DATA", bslerr.ErrWrongReply)
	}
	if !d.cli.ExpectAck(frame.CmdExecData, nil, 5*time.Second) {
		return bslerr.Step(stage.String(), "EXEC_DATA", bslerr.ErrWrongReply)
	}
	return nil
}

// sendChunk sends one MIDST_DATA header (ACK expected) followed by the
// raw, unframed chunk bytes (ACK expected).
func (d *Driver) sendChunk(stage Generation, chunk []byte) error {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(chunk)))
	// enable=0 unconditionally: the device never validates the per-chunk
	// checksum field in that case, so it is left zero.

	if !d.cli.ExpectAck(frame.CmdMidstData, header, 5*time.Second) {
		return bslerr.Step(stage.String(), "MIDST_DATA header", bslerr.ErrWrongReply)
	}

	if _, err := d.t.Write(chunk, 5*time.Second); err != nil {
		return bslerr.Step(stage.String(), "MIDST_DATA body write", err)
	}
	buf := make([]byte, 512)
	n, err := d.t.Read(buf, 5*time.Second)
	if err != nil {
		return bslerr.Step(stage.String(), "MIDST_DATA body ack", err)
	}
	reply, ok := frame.Decode(buf[:n])
	if !ok || reply.Command != frame.ReplyAck {
		return bslerr.Step(stage.String(), "MIDST_DATA body ack", bslerr.ErrWrongReply)
	}
	return nil
}

type startData struct {
	header []byte
	body   io.Reader
}

// startDataPayload builds the stage-dependent START_DATA header:
// 32-bit for FDL1/EIP, 64-bit for FDL2. The image-burn shape
// (post-FDL2) lives in the flash package since it also carries an id.
func startDataPayload(stage Generation, blob io.Reader, baseAddr uint64) (startData, error) {
	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, blob); err != nil {
		return startData{}, fmt.Errorf("read loader blob: %w", err)
	}
	size := uint64(buf.Len())

	var header []byte
	switch stage {
	case FDL1, EIP:
		// EIP is downloaded as a stage-1-style blob: it reuses FDL1's
		// 32-bit addressing.
		header = make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], uint32(baseAddr))
		binary.LittleEndian.PutUint32(header[4:8], uint32(size))
	case FDL2:
		header = make([]byte, 16)
		binary.LittleEndian.PutUint64(header[0:8], baseAddr)
		binary.LittleEndian.PutUint64(header[8:16], size)
	default:
		return startData{}, fmt.Errorf("stage %s does not take a loader START_DATA header", stage)
	}

	return startData{header: header, body: bytes.NewReader(buf.Bytes())}, nil
}
