package extract

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrUnsafePath is returned for archive entries escaping the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

type unarchiveConfig struct {
	overwrite       bool
	stripComponents int
}

type UnarchiveOption func(*unarchiveConfig)

func WithOverwrite(overwrite bool) UnarchiveOption {
	return func(c *unarchiveConfig) { c.overwrite = overwrite }
}

// WithStripComponents drops the first n path elements of every entry, like
// tar --strip-components.
func WithStripComponents(n int) UnarchiveOption {
	return func(c *unarchiveConfig) { c.stripComponents = n }
}

type UnarchiveResult struct {
	Files []string
	Size  int64
}

// Unarchive extracts a tar, tar.gz or tar.xz archive into dest.
func Unarchive(archivePath, dest string, opts ...UnarchiveOption) (*UnarchiveResult, error) {
	cfg := &unarchiveConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch GetExtension(archivePath) {
	case ".tar.xz", ".txz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid xz stream: %w", err)
		}
		r = xr
	case ".tar.gz", ".tgz":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	case ".tar":
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}

	return untar(tar.NewReader(r), dest, cfg)
}

func untar(tr *tar.Reader, dest string, cfg *unarchiveConfig) (*UnarchiveResult, error) {
	result := &UnarchiveResult{}
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("failed to read archive: %w", err)
		}

		name := strip(hdr.Name, cfg.stripComponents)
		if name == "" {
			continue
		}
		target, err := within(root, name)
		if err != nil {
			return result, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return result, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm(), cfg.overwrite); err != nil {
				return result, err
			}
			result.Files = append(result.Files, target)
			result.Size += hdr.Size
		case tar.TypeSymlink:
			// link targets are resolved relative to the link and must stay inside root
			linkTarget := hdr.Linkname
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if _, err := within(root, mustRel(root, linkTarget)); err != nil {
				return result, fmt.Errorf("%w: %s -> %s", ErrUnsafePath, hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return result, err
			}
			if cfg.overwrite {
				_ = os.Remove(target)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return result, err
			}
			result.Files = append(result.Files, target)
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	out, err := os.OpenFile(target, flags, mode|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func strip(name string, n int) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return ""
	}
	return filepath.FromSlash(strings.Join(parts[n:], "/"))
}

func within(root, name string) (string, error) {
	target := filepath.Join(root, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
