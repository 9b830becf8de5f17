package flash

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
	"github.com/bigbag/axdl-flasher/internal/bsl/command"
	"github.com/bigbag/axdl-flasher/internal/bsl/frame"
	"github.com/bigbag/axdl-flasher/internal/manifest"
)

// imageChunkSize is the burn-phase chunk size; device-dictated, do not
// tune without device-side evidence.
const imageChunkSize = 0xB000

// Progress is invoked after each chunk of an image burn is acknowledged,
// so UI progress reflects device-side progress, not host-side buffering.
type Progress func(name string, sentBytes, totalBytes int)

// Driver is the Flash Driver: repartition, erase, per-image burn, and
// the image-list loop.
type Driver struct {
	t        command.Transport
	cli      *command.Client
	log      *logrus.Logger
	Progress Progress
}

// New builds a flash Driver over t.
func New(t command.Transport, log *logrus.Logger) *Driver {
	if log == nil {
		log = logrus.New()
	}
	return &Driver{t: t, cli: command.New(t), log: log}
}

// Repartition sends the full partition table in one REPARTITION command
// with a 3-second read timeout; success is ACK.
func (d *Driver) Repartition(unit manifest.UnitCode, partitions []manifest.PartitionEntry) error {
	entries := make([]partitionEntry, len(partitions))
	for i, p := range partitions {
		entries[i] = partitionEntry{ID: p.ID, Size: p.Size, Gap: p.Gap}
	}
	payload := encodeRepartitionPayload(byte(unit), entries)

	if !d.cli.ExpectAck(frame.CmdRepartition, payload, 3*time.Second) {
		return bslerr.Step("flash", "REPARTITION", bslerr.ErrWrongReply)
	}
	d.log.WithField("partitions", len(partitions)).Debug("bsl: repartition ok")
	return nil
}

// ErasePartition sends ERASE_FLASH for name with a 120-second read
// timeout (erase can be slow); a size of 0 means erase the entire
// partition.
func (d *Driver) ErasePartition(name string) error {
	payload := eraseFlashPayload(name)
	if !d.cli.ExpectAck(frame.CmdEraseFlash, payload, 120*time.Second) {
		return bslerr.Step("flash", fmt.Sprintf("ERASE_FLASH %q", name), bslerr.ErrWrongReply)
	}
	d.log.WithField("partition", name).Debug("bsl: erase ok")
	return nil
}

// BurnImage streams the file at path into partition name via
// START_DATA/MIDST_DATA*/ENDED_DATA, chunked at imageChunkSize. Any
// non-ACK aborts the image.
func (d *Driver) BurnImage(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bslerr.Step("flash", fmt.Sprintf("burn %q", name), fmt.Errorf("%w: %s", bslerr.ErrFileNotFound, path))
		}
		return bslerr.Step("flash", fmt.Sprintf("burn %q", name), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return bslerr.Step("flash", fmt.Sprintf("burn %q", name), err)
	}
	total := info.Size()

	startPayload := imageStartDataPayload(name, uint64(total))
	if !d.cli.ExpectAck(frame.CmdStartData, startPayload, 2*time.Second) {
		return bslerr.Step("flash", fmt.Sprintf("START_DATA for %q", name), bslerr.ErrWrongReply)
	}

	chunk := make([]byte, imageChunkSize)
	var sent int64
	for {
		n, rerr := io.ReadFull(f, chunk)
		if n > 0 {
			if err := d.sendImageChunk(name, chunk[:n]); err != nil {
				return err
			}
			sent += int64(n)
			if d.Progress != nil {
				d.Progress(name, int(sent), int(total))
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return bslerr.Step("flash", fmt.Sprintf("read %q", path), rerr)
		}
	}

	if !d.cli.ExpectAck(frame.CmdEndedData, nil, 120*time.Second) {
		return bslerr.Step("flash", fmt.Sprintf("ENDED_DATA for %q", name), bslerr.ErrWrongReply)
	}
	d.log.WithFields(logrus.Fields{"partition": name, "bytes": total}).Debug("bsl: burn ok")
	return nil
}

// sendImageChunk sends one MIDST_DATA header (ACK expected, 5s timeout)
// followed by the raw, unframed chunk bytes (ACK expected, 120s
// timeout).
func (d *Driver) sendImageChunk(name string, chunk []byte) error {
	header := midstDataHeader(uint32(len(chunk)))
	if !d.cli.ExpectAck(frame.CmdMidstData, header, 5*time.Second) {
		return bslerr.Step("flash", fmt.Sprintf("MIDST_DATA header for %q", name), bslerr.ErrWrongReply)
	}

	if _, err := d.t.Write(chunk, 120*time.Second); err != nil {
		return bslerr.Step("flash", fmt.Sprintf("MIDST_DATA body write for %q", name), err)
	}
	buf := make([]byte, 512)
	n, err := d.t.Read(buf, 120*time.Second)
	if err != nil {
		return bslerr.Step("flash", fmt.Sprintf("MIDST_DATA body ack for %q", name), err)
	}
	reply, ok := frame.Decode(buf[:n])
	if !ok || reply.Command != frame.ReplyAck {
		return bslerr.Step("flash", fmt.Sprintf("MIDST_DATA body ack for %q", name), bslerr.ErrWrongReply)
	}
	return nil
}

// RunImageList iterates actions in manifest order: skip, erase, or burn.
func (d *Driver) RunImageList(actions []manifest.ImageAction) error {
	for _, a := range actions {
		switch a.Kind {
		case manifest.ActionSkip:
			d.log.WithFields(logrus.Fields{"partition": a.Name, "reason": a.Reason}).Warn("bsl: skipping image")
		case manifest.ActionErase:
			if err := d.ErasePartition(a.Name); err != nil {
				return err
			}
		case manifest.ActionBurn:
			if err := d.BurnImage(a.Name, a.File); err != nil {
				return err
			}
		}
	}
	return nil
}
