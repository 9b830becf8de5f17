package manifest

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// xmlConfig mirrors the bundle manifest's <Config><Project>...
// </Project></Config> tree. Every numeric attribute is decoded as a
// string here and converted by parseHexOrDecimal, since
// strconv.ParseInt(s, 0, 64) already accepts both decimal and
// "0x"-prefixed hex in one call.
type xmlConfig struct {
	XMLName xml.Name   `xml:"Config"`
	Project xmlProject `xml:"Project"`
}

type xmlProject struct {
	Partitions xmlPartitions `xml:"Partitions"`
	ImgList    xmlImgList    `xml:"ImgList"`
}

type xmlPartitions struct {
	Unit       string         `xml:"unit,attr"`
	Partitions []xmlPartition `xml:"Partition"`
}

type xmlPartition struct {
	ID   string `xml:"id,attr"`
	Size string `xml:"size,attr"`
	Gap  string `xml:"gap,attr"`
}

type xmlImgList struct {
	Imgs []xmlImg `xml:"Img"`
}

type xmlImg struct {
	Flag   string   `xml:"flag,attr"`
	Select string   `xml:"select,attr"`
	ID     string   `xml:"ID"`
	File   string   `xml:"File"`
	Type   string   `xml:"Type"`
	Block  xmlBlock `xml:"Block"`
}

type xmlBlock struct {
	ID   string `xml:"id,attr"`
	Base string `xml:"Base"`
}

// ParseManifest reads and decodes xmlPath (the manifest extracted from
// the AXP bundle) into a Manifest whose File references are resolved
// against bundleDir. It recognizes FDL1/FDL2/EIP by image ID, per
// the convention the original axdl_tool.py manifest uses.
func ParseManifest(xmlPath, bundleDir string) (*Manifest, error) {
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var cfg xmlConfig
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse manifest XML: %w", err)
	}

	unit, err := parseUnit(cfg.Project.Partitions.Unit)
	if err != nil {
		return nil, err
	}

	partitions := make([]PartitionEntry, 0, len(cfg.Project.Partitions.Partitions))
	for _, p := range cfg.Project.Partitions.Partitions {
		size, err := parseHexOrDecimal(p.Size)
		if err != nil {
			return nil, fmt.Errorf("partition %q size: %w", p.ID, err)
		}
		gap, err := parseHexOrDecimal(p.Gap)
		if err != nil {
			return nil, fmt.Errorf("partition %q gap: %w", p.ID, err)
		}
		partitions = append(partitions, PartitionEntry{ID: p.ID, Size: size, Gap: gap})
	}

	images := make([]ImageDescriptor, 0, len(cfg.Project.ImgList.Imgs))
	for _, img := range cfg.Project.ImgList.Imgs {
		desc, err := toImageDescriptor(img)
		if err != nil {
			return nil, err
		}
		images = append(images, desc)
	}

	m := &Manifest{
		Unit:       unit,
		Partitions: partitions,
		Images:     images,
		BundleDir:  bundleDir,
	}

	for _, img := range images {
		switch strings.ToUpper(img.ID) {
		case "FDL1":
			m.FDL1 = img
		case "FDL2":
			m.FDL2 = img
		case "EIP":
			eip := img
			m.EIP = &eip
		}
	}

	return m, nil
}

func toImageDescriptor(img xmlImg) (ImageDescriptor, error) {
	flag, err := parseHexOrDecimal(img.Flag)
	if err != nil {
		return ImageDescriptor{}, fmt.Errorf("image %q flag: %w", img.ID, err)
	}
	base, err := parseHexOrDecimal(img.Block.Base)
	if err != nil {
		return ImageDescriptor{}, fmt.Errorf("image %q base: %w", img.ID, err)
	}
	return ImageDescriptor{
		ID:      img.ID,
		File:    img.File,
		Base:    uint64(base),
		BlockID: img.Block.ID,
		Flag:    int(flag),
		Select:  parseBoolAttr(img.Select),
		Type:    img.Type,
	}, nil
}

func parseUnit(s string) (UnitCode, error) {
	v, err := parseHexOrDecimal(s)
	if err != nil {
		return 0, fmt.Errorf("partitions unit: %w", err)
	}
	switch v {
	case 0, 1, 2, 3:
		return UnitCode(v), nil
	default:
		return 0, fmt.Errorf("partitions unit: unrecognized code %d", v)
	}
}

// parseHexOrDecimal accepts a decimal or "0x"-prefixed hex numeric
// attribute. An empty string is treated as zero.
func parseHexOrDecimal(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return v, nil
}

func parseBoolAttr(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
