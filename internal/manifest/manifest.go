// Package manifest is the typed representation of an AXP firmware
// bundle: FDL1/FDL2/EIP descriptors, the partition table, and the image
// list the flash driver consumes. Every image descriptor is resolved to
// exactly one ImageAction at load time (Validate), not re-interpreted
// every time the flash driver visits it.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigbag/axdl-flasher/internal/bsl/bslerr"
)

// UnitCode selects the meaning of a PartitionEntry's Size.
type UnitCode byte

const (
	UnitMiB   UnitCode = 0
	Unit512KB UnitCode = 1
	UnitKiB   UnitCode = 2
	UnitByte  UnitCode = 3
)

// Bytes returns the byte multiplier for u, or 0 for an unrecognized code.
func (u UnitCode) Bytes() int64 {
	switch u {
	case UnitMiB:
		return 1 << 20
	case Unit512KB:
		return 512 << 10
	case UnitKiB:
		return 1 << 10
	case UnitByte:
		return 1
	default:
		return 0
	}
}

// PartitionEntry is one row of the partition table.
type PartitionEntry struct {
	ID   string
	Size int64
	Gap  int64
}

// ImageDescriptor describes one entry of the manifest's image list.
// BlockID may be empty, in which case TargetName falls back to ID.
type ImageDescriptor struct {
	ID      string
	File    string
	Base    uint64
	BlockID string
	Flag    int
	Select  bool
	Type    string
}

// TargetName returns BlockID if present, otherwise ID.
func (d ImageDescriptor) TargetName() string {
	if d.BlockID != "" {
		return d.BlockID
	}
	return d.ID
}

// isEraseType reports whether d's Type is the ERASEFLASH sentinel,
// matched case-insensitively.
func (d ImageDescriptor) isEraseType() bool {
	return strings.EqualFold(d.Type, "ERASEFLASH")
}

// ImageAction is a resolved instruction for one image-list entry:
// Erase(name) | Burn(name, file, base) | Skip(reason). Exactly one
// variant is populated; Kind says which.
type ActionKind int

const (
	ActionErase ActionKind = iota
	ActionBurn
	ActionSkip
)

type ImageAction struct {
	Kind   ActionKind
	Name   string // target partition name (erase, burn)
	File   string // resolved bundle file path (burn only)
	Base   uint64 // load address (burn only, informational)
	Reason string // human-readable reason (skip only)
}

// Manifest is the engine-facing, read-only representation of an AXP
// bundle's configuration, built once by ParseManifest.
type Manifest struct {
	FDL1       ImageDescriptor
	FDL2       ImageDescriptor
	EIP        *ImageDescriptor
	Unit       UnitCode
	Partitions []PartitionEntry
	Images     []ImageDescriptor

	// BundleDir is the directory the manifest's File fields are resolved
	// against (the extracted bundle's temp directory).
	BundleDir string
}

// Validate checks that FDL1 and FDL2 are present with a file and base
// address, and resolves the image list into an ordered []ImageAction.
// It returns ErrManifestInvalid wrapped with the specific violation for
// a hard failure (missing FDL1/FDL2), and never fails for an individual
// missing optional image: that resolves to ActionSkip instead, with a
// warning logged by the caller.
func (m *Manifest) Validate() ([]ImageAction, error) {
	if m.FDL1.File == "" || m.FDL1.Base == 0 {
		return nil, fmt.Errorf("%w: FDL1 descriptor missing file or base address", bslerr.ErrManifestInvalid)
	}
	if m.FDL2.File == "" || m.FDL2.Base == 0 {
		return nil, fmt.Errorf("%w: FDL2 descriptor missing file or base address", bslerr.ErrManifestInvalid)
	}
	if !m.bundleFileExists(m.FDL1.File) {
		return nil, fmt.Errorf("%w: FDL1 file %q not found in bundle", bslerr.ErrManifestInvalid, m.FDL1.File)
	}
	if !m.bundleFileExists(m.FDL2.File) {
		return nil, fmt.Errorf("%w: FDL2 file %q not found in bundle", bslerr.ErrManifestInvalid, m.FDL2.File)
	}

	actions := make([]ImageAction, 0, len(m.Images))
	for _, img := range m.Images {
		actions = append(actions, m.resolve(img))
	}
	return actions, nil
}

func (m *Manifest) resolve(img ImageDescriptor) ImageAction {
	if !img.Select {
		return ImageAction{Kind: ActionSkip, Name: img.TargetName(), Reason: "select=false"}
	}
	if img.isEraseType() {
		return ImageAction{Kind: ActionErase, Name: img.TargetName()}
	}
	if img.File == "" {
		return ImageAction{Kind: ActionSkip, Name: img.TargetName(), Reason: "no file referenced"}
	}
	if !m.bundleFileExists(img.File) {
		return ImageAction{Kind: ActionSkip, Name: img.TargetName(), Reason: fmt.Sprintf("file %q missing from bundle", img.File)}
	}
	return ImageAction{
		Kind: ActionBurn,
		Name: img.TargetName(),
		File: m.ResolvePath(img.File),
		Base: img.Base,
	}
}

// ResolvePath joins a bundle-relative file name with BundleDir.
func (m *Manifest) ResolvePath(name string) string {
	return filepath.Join(m.BundleDir, name)
}

func (m *Manifest) bundleFileExists(name string) bool {
	if name == "" {
		return false
	}
	info, err := os.Stat(m.ResolvePath(name))
	return err == nil && !info.IsDir()
}
