package builder

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// firstSdist returns the first source distribution in dir, in sorted order.
func firstSdist(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		switch {
		case strings.HasSuffix(name, ".zip"),
			strings.HasSuffix(name, ".tar"),
			strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"),
			strings.HasSuffix(name, ".tar.bz2"),
			strings.HasSuffix(name, ".tar.xz"),
			strings.HasSuffix(name, ".tar.zst"):
			return filepath.Join(dir, name), nil
		}
	}
	return "", errors.New("no source distribution in download directory")
}

// extractArchive unpacks an sdist into destination. The format is decided by
// the filename.
func extractArchive(source, destination string) error {
	name := filepath.Base(source)
	if strings.HasSuffix(name, ".zip") {
		return extractZip(source, destination)
	}

	f, err := os.Open(source)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(name, ".tar"):
		reader = f
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(name, ".tar.bz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		reader = xr
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		reader = zr
	default:
		return fmt.Errorf("unsupported sdist format: %s", name)
	}
	return extractTar(reader, destination)
}

func extractTar(r io.Reader, destination string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := securePath(destination, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(source, destination string) error {
	zr, err := zip.OpenReader(source)
	if err != nil {
		return err
	}
	defer zr.Close()
	for _, file := range zr.File {
		target, err := securePath(destination, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, file.Mode()&0o777)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// securePath rejects entries that would escape the destination.
func securePath(destination, name string) (string, error) {
	target := filepath.Join(destination, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(destination)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

// buildRoot resolves the project root inside an extracted sdist. Sdists
// carry a single top-level directory; fall back to the extraction root when
// the layout differs.
func buildRoot(sourceDir string) string {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return sourceDir
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		} else {
			return sourceDir
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(sourceDir, dirs[0])
	}
	return sourceDir
}
