// Package transport opens a USB bulk interface and moves raw bytes over
// the OUT and IN endpoints, with timeouts surfaced distinctly from hard
// I/O errors.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
)

// Default endpoint addresses and VID/PID. Kept as defaulted
// configuration knobs rather than scanned for: the bulk endpoints are
// fixed by the BSL itself, not device-enumerated.
const (
	DefaultVID        = 0x32C9
	DefaultPID        = 0x1000
	DefaultOutEndAddr = 0x01
	DefaultInEndAddr  = 0x81
	claimInterface    = 0
	claimAltSetting   = 0
)

// Bulk is the USB bulk-transfer transport the rest of the BSL engine is
// built on. It is not safe for concurrent use: the engine issues one
// request at a time and waits for its reply before issuing the next.
type Bulk struct {
	VID, PID   int
	OutEndAddr int
	InEndAddr  int
	Log        *logrus.Logger

	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	open bool
}

// New builds a Bulk transport for the given VID/PID, using the BSL's
// default endpoint addresses. Call Open to actually claim the device.
func New(vid, pid int, log *logrus.Logger) *Bulk {
	if log == nil {
		log = logrus.New()
	}
	return &Bulk{
		VID:        vid,
		PID:        pid,
		OutEndAddr: DefaultOutEndAddr,
		InEndAddr:  DefaultInEndAddr,
		Log:        log,
	}
}

// Open locates the first device matching (VID, PID), retrying up to
// retries times at 1-second spacing and tolerating transient USB errors
// on each attempt. It claims interface 0 / alt 0, enables automatic
// kernel-driver detach/reattach, and locates the bulk OUT/IN endpoints;
// absence of either is a fatal error.
func (b *Bulk) Open(retries int) error {
	ctx := gousb.NewContext()

	var (
		dev *gousb.Device
		err error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		dev, err = ctx.OpenDeviceWithVIDPID(gousb.ID(b.VID), gousb.ID(b.PID))
		if err == nil && dev != nil {
			break
		}
		b.Log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"vid":     fmt.Sprintf("0x%04X", b.VID),
			"pid":     fmt.Sprintf("0x%04X", b.PID),
		}).Debug("bsl: device not found yet, retrying")
		time.Sleep(time.Second)
	}
	if err != nil || dev == nil {
		ctx.Close()
		if err == nil {
			err = fmt.Errorf("device 0x%04X:0x%04X not found after %d attempts", b.VID, b.PID, retries+1)
		}
		return fmt.Errorf("bsl: open device: %w", err)
	}

	// Let libusb detach and later reattach any kernel driver bound to the
	// interface we are about to claim.
	dev.SetAutoDetach(true)

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return fmt.Errorf("bsl: set config: %w", err)
	}

	intf, err := config.Interface(claimInterface, claimAltSetting)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("bsl: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(b.OutEndAddr)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("bsl: %w: out endpoint 0x%02X: %v", bslerr.ErrEndpointMissing, b.OutEndAddr, err)
	}

	epIn, err := intf.InEndpoint(b.InEndAddr)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("bsl: %w: in endpoint 0x%02X: %v", bslerr.ErrEndpointMissing, b.InEndAddr, err)
	}

	b.ctx, b.device, b.config, b.intf, b.epOut, b.epIn = ctx, dev, config, intf, epOut, epIn
	b.open = true
	b.Log.Debug("bsl: transport opened")
	return nil
}

// Write writes data to the bulk OUT endpoint, failing fast if the
// transport was never opened.
func (b *Bulk) Write(data []byte, timeout time.Duration) (int, error) {
	if !b.open {
		return 0, bslerr.ErrNotOpen
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := b.epOut.WriteContext(ctx, data)
	if err != nil {
		return n, fmt.Errorf("bsl: bulk write: %w", err)
	}
	b.Log.WithField("bytes", n).Trace("bsl: bulk OUT")
	return n, nil
}

// Read reads up to len(buf) bytes from the bulk IN endpoint within
// timeout. A timeout returns (0, nil): the empty buffer is itself the
// signal: no caller needs to special-case a timeout error value.
// Any other I/O error is returned as-is (wrapped).
func (b *Bulk) Read(buf []byte, timeout time.Duration) (int, error) {
	if !b.open {
		return 0, bslerr.ErrNotOpen
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := b.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return 0, nil
		}
		return n, fmt.Errorf("bsl: bulk read: %w", err)
	}
	b.Log.WithField("bytes", n).Trace("bsl: bulk IN")
	return n, nil
}

// RawWrite writes unframed bytes directly to the OUT endpoint and
// reports only the error. Nothing in this repository calls it: the stage
// driver sends the unframed handshake sentinel through Write.
func (b *Bulk) RawWrite(data []byte, timeout time.Duration) error {
	_, err := b.Write(data, timeout)
	return err
}

// Close is idempotent; it releases the interface, config and device and
// lets libusb reattach the kernel driver it auto-detached, per Open.
func (b *Bulk) Close() error {
	if !b.open {
		return nil
	}
	b.open = false

	if b.intf != nil {
		b.intf.Close()
	}
	if b.config != nil {
		b.config.Close()
	}
	var err error
	if b.device != nil {
		err = b.device.Close()
	}
	if b.ctx != nil {
		b.ctx.Close()
	}
	b.Log.Debug("bsl: transport closed")
	return err
}
