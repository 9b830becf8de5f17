package manifest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tempDirPattern matches the original tool's convention of a clearly
// named scratch directory so stray extractions are recognizable.
const tempDirPattern = "axdl-bundle-*"

// ExtractBundle opens axpPath as a zip archive and extracts every entry
// into a fresh process-scoped temp directory. The returned cleanup func
// removes that directory; callers must defer it on every exit path,
// including a failed flash, so no extraction directory survives a job.
func ExtractBundle(axpPath string) (dir string, cleanup func(), err error) {
	r, err := zip.OpenReader(axpPath)
	if err != nil {
		return "", nil, fmt.Errorf("open AXP bundle %q: %w", axpPath, err)
	}
	defer r.Close()

	dir, err = os.MkdirTemp("", tempDirPattern)
	if err != nil {
		return "", nil, fmt.Errorf("create extraction dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	for _, f := range r.File {
		if err := extractEntry(dir, f); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("extract %q: %w", f.Name, err)
		}
	}

	return dir, cleanup, nil
}

func extractEntry(dir string, f *zip.File) error {
	// Bundle members live at the archive root; still guard against a
	// path that would escape dir via "../" segments.
	name := filepath.Base(strings.ReplaceAll(f.Name, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return nil
	}
	target := filepath.Join(dir, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
