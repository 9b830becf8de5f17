package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestValidate_MissingFDL1IsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fdl2.bin")
	m := &Manifest{
		FDL2:      ImageDescriptor{File: "fdl2.bin", Base: 0x5C000000},
		BundleDir: dir,
	}
	_, err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FDL1")
}

func TestValidate_MissingFDL2FileIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fdl1.bin")
	m := &Manifest{
		FDL1:      ImageDescriptor{File: "fdl1.bin", Base: 0x03000000},
		FDL2:      ImageDescriptor{File: "missing.bin", Base: 0x5C000000},
		BundleDir: dir,
	}
	_, err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FDL2")
}

func TestValidate_OptionalMissingImageWarnsAndSkips(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fdl1.bin")
	writeFile(t, dir, "fdl2.bin")

	m := &Manifest{
		FDL1:      ImageDescriptor{File: "fdl1.bin", Base: 0x03000000},
		FDL2:      ImageDescriptor{File: "fdl2.bin", Base: 0x5C000000},
		BundleDir: dir,
		Images: []ImageDescriptor{
			{ID: "splash", File: "splash.img", Select: true},
		},
	}

	actions, err := m.Validate()
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionSkip, actions[0].Kind)
	assert.Equal(t, "splash", actions[0].Name)
}

func TestValidate_ResolvesActionsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fdl1.bin")
	writeFile(t, dir, "fdl2.bin")
	writeFile(t, dir, "a.img")
	writeFile(t, dir, "d.img")

	m := &Manifest{
		FDL1:      ImageDescriptor{File: "fdl1.bin", Base: 0x03000000},
		FDL2:      ImageDescriptor{File: "fdl2.bin", Base: 0x5C000000},
		BundleDir: dir,
		Images: []ImageDescriptor{
			{ID: "A", File: "a.img", Select: true},
			{ID: "B", Type: "ERASEFLASH", Select: false},
			{ID: "C", Type: "ERASEFLASH", Select: true},
			{ID: "D", File: "d.img", Select: true},
		},
	}

	actions, err := m.Validate()
	require.NoError(t, err)
	require.Len(t, actions, 4)
	assert.Equal(t, ActionBurn, actions[0].Kind)
	assert.Equal(t, "A", actions[0].Name)
	assert.Equal(t, ActionSkip, actions[1].Kind)
	assert.Equal(t, "B", actions[1].Name)
	assert.Equal(t, ActionErase, actions[2].Kind)
	assert.Equal(t, "C", actions[2].Name)
	assert.Equal(t, ActionBurn, actions[3].Kind)
	assert.Equal(t, "D", actions[3].Name)
}

func TestImageDescriptor_TargetNameFallsBackToID(t *testing.T) {
	d := ImageDescriptor{ID: "system"}
	assert.Equal(t, "system", d.TargetName())

	d.BlockID = "system_a"
	assert.Equal(t, "system_a", d.TargetName())
}

func TestResolvePath_JoinsBundleDir(t *testing.T) {
	m := &Manifest{BundleDir: "/tmp/bundle"}
	assert.Equal(t, filepath.Join("/tmp/bundle", "fdl1.bin"), m.ResolvePath("fdl1.bin"))
}
