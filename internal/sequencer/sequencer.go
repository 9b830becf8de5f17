// Package sequencer wires the manifest, transport, stage driver and
// flash driver into one flash job with an ordered set of phases,
// including the terminal optional reset: open, connect, flash each
// region, reboot, all under one error return that triggers cleanup.
package sequencer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
	"github.com/bigbag/axdl-flasher/internal/bsl/command"
	"github.com/bigbag/axdl-flasher/internal/bsl/flash"
	"github.com/bigbag/axdl-flasher/internal/bsl/frame"
	"github.com/bigbag/axdl-flasher/internal/bsl/stage"
	"github.com/bigbag/axdl-flasher/internal/bsl/transport"
	"github.com/bigbag/axdl-flasher/internal/manifest"
)

// Options configures one flash job.
type Options struct {
	AXPPath     string
	VID, PID    int
	OpenRetries int // default 15 if unset or non-positive
	Reset       bool
	Log         *logrus.Logger
	Progress    flash.Progress
}

// Run executes the full flash job: extract + parse, open transport, ROM
// handshake/connect, optional EIP, FDL1, FDL2, repartition, burn,
// optional reset, close. The transport and extracted bundle directory
// are released on every exit path.
func Run(opts Options) error {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	retries := opts.OpenRetries
	if retries <= 0 {
		retries = 15
	}

	// Phase 1: extract + parse.
	bundleDir, cleanupBundle, err := manifest.ExtractBundle(opts.AXPPath)
	if err != nil {
		return bslerr.Step("extract", "open AXP bundle", err)
	}
	defer cleanupBundle()

	xmlPath, err := findManifestXML(bundleDir)
	if err != nil {
		return bslerr.Step("extract", "locate manifest", err)
	}
	m, err := manifest.ParseManifest(xmlPath, bundleDir)
	if err != nil {
		return bslerr.Step("extract", "parse manifest", err)
	}
	actions, err := m.Validate()
	if err != nil {
		return bslerr.Step("extract", "validate manifest", err)
	}

	// Phase 2: open transport.
	t := transport.New(opts.VID, opts.PID, log)
	if err := t.Open(retries); err != nil {
		return bslerr.Step("open", "USB transport", err)
	}
	defer t.Close()

	sd := stage.New(t, log)
	fd := flash.New(t, log)
	fd.Progress = opts.Progress

	// Phase 3: ROM handshake; ROM CONNECT.
	romVersion := sd.Handshake(stage.ROM)
	if romVersion == "" {
		return bslerr.Step("rom", "handshake", bslerr.ErrTimeout)
	}
	if !sd.Connect() {
		return bslerr.Step("rom", "CONNECT", bslerr.ErrWrongReply)
	}
	log.WithField("version", romVersion).Debug("bsl: ROM ready")

	// Phase 4: EIP, only if the ROM banner advertises secure boot. The
	// source marks this branch untested; surface that loudly rather than
	// silently changing behavior for non-secure-boot devices.
	if m.EIP != nil && strings.Contains(strings.ToLower(romVersion), "secureboot") {
		log.Warn("bsl: secure-boot token detected, downloading EIP (untested path)")
		eipBlob, err := os.Open(m.ResolvePath(m.EIP.File))
		if err != nil {
			return bslerr.Step("eip", "open EIP file", err)
		}
		err = sd.DownloadLoader(stage.EIP, eipBlob, m.EIP.Base)
		eipBlob.Close()
		if err != nil {
			return bslerr.Step("eip", "download", err)
		}
	}

	// Phase 5: download FDL1.
	fdl1Blob, err := os.Open(m.ResolvePath(m.FDL1.File))
	if err != nil {
		return bslerr.Step("fdl1", "open file", err)
	}
	err = sd.DownloadLoader(stage.FDL1, fdl1Blob, m.FDL1.Base)
	fdl1Blob.Close()
	if err != nil {
		return bslerr.Step("fdl1", "download", err)
	}

	// Phase 6: FDL1 handshake; FDL1 CONNECT.
	fdl1Version := sd.Handshake(stage.FDL1)
	if fdl1Version == "" {
		return bslerr.Step("fdl1", "handshake", bslerr.ErrTimeout)
	}
	if !sd.Connect() {
		return bslerr.Step("fdl1", "CONNECT", bslerr.ErrWrongReply)
	}

	// Phase 7: download FDL2.
	fdl2Blob, err := os.Open(m.ResolvePath(m.FDL2.File))
	if err != nil {
		return bslerr.Step("fdl2", "open file", err)
	}
	err = sd.DownloadLoader(stage.FDL2, fdl2Blob, m.FDL2.Base)
	fdl2Blob.Close()
	if err != nil {
		return bslerr.Step("fdl2", "download", err)
	}

	// Phase 8: FDL2 is now running; no further handshake. Repartition.
	if err := fd.Repartition(m.Unit, m.Partitions); err != nil {
		return bslerr.Step("fdl2", "repartition", err)
	}

	// Phase 9: burn image list.
	if err := fd.RunImageList(actions); err != nil {
		return bslerr.Step("fdl2", "burn images", err)
	}

	// Phase 10: optional reset. ACK is desired but absence only warns —
	// the device may reboot before ACKing.
	if opts.Reset {
		cli := command.New(t)
		payload := make([]byte, 4)
		if !cli.ExpectAck(frame.CmdReset, payload, 10*time.Second) {
			log.Warn("bsl: no ACK for RESET (device may have rebooted already)")
		}
	}

	return nil
}

// findManifestXML locates the single .xml configuration file at the
// bundle root, alongside the binary images.
func findManifestXML(bundleDir string) (string, error) {
	entries, err := os.ReadDir(bundleDir)
	if err != nil {
		return "", fmt.Errorf("read extracted bundle: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".xml") {
			return bundleDir + string(os.PathSeparator) + e.Name(), nil
		}
	}
	return "", fmt.Errorf("no XML manifest found in bundle")
}
