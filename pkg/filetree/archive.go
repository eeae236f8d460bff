package filetree

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
)

// Compress writes paths (each resolved against the base) into a single
// archive at archivePath. The archive kind is inferred from archivePath's
// extension: .zip, or .tar.gz/.tgz.
func (t *Tree) Compress(paths []string, archivePath string) error {
	archiveAbs, err := t.resolve(archivePath)
	if err != nil {
		return err
	}

	switch archiveKind(archivePath) {
	case kindZip:
		return t.compressZip(paths, archiveAbs)
	case kindTarGz:
		return t.compressTarGz(paths, archiveAbs)
	default:
		return catalysterr.New(catalysterr.UnsupportedArchive, fmt.Sprintf("unsupported archive name %q", archivePath))
	}
}

// Decompress extracts archivePath into target, both resolved against the
// base. Every entry's destination is re-resolved through the same
// confinement check as any other write, so a crafted archive entry (e.g.
// "../../etc/passwd") cannot escape the workload base.
func (t *Tree) Decompress(archivePath, target string) error {
	archiveAbs, err := t.resolve(archivePath)
	if err != nil {
		return err
	}
	targetAbs, err := t.resolve(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetAbs, 0o755); err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "creating decompress target", err)
	}

	switch archiveKind(archivePath) {
	case kindZip:
		return t.decompressZip(archiveAbs, target)
	case kindTarGz:
		return t.decompressTarGz(archiveAbs, target)
	default:
		return catalysterr.New(catalysterr.UnsupportedArchive, fmt.Sprintf("unsupported archive name %q", archivePath))
	}
}

type archiveFormat int

const (
	kindUnknown archiveFormat = iota
	kindZip
	kindTarGz
)

func archiveKind(name string) archiveFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return kindZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return kindTarGz
	default:
		return kindUnknown
	}
}

func (t *Tree) compressZip(paths []string, archiveAbs string) error {
	out, err := os.Create(archiveAbs)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "creating archive", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	for _, p := range paths {
		abs, err := t.resolve(p)
		if err != nil {
			return err
		}
		if err := addToZip(zw, t.base, abs); err != nil {
			return err
		}
	}
	return nil
}

func addToZip(zw *zip.Writer, base, abs string) error {
	return filepath.Walk(abs, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, walked)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(walked)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

func (t *Tree) compressTarGz(paths []string, archiveAbs string) error {
	out, err := os.Create(archiveAbs)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "creating archive", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, p := range paths {
		abs, err := t.resolve(p)
		if err != nil {
			return err
		}
		if err := addToTar(tw, t.base, abs); err != nil {
			return err
		}
	}
	return nil
}

func addToTar(tw *tar.Writer, base, abs string) error {
	return filepath.Walk(abs, func(walked string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, walked)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(walked)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func (t *Tree) decompressZip(archiveAbs, target string) error {
	zr, err := zip.OpenReader(archiveAbs)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "opening archive", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		dest, err := t.resolve(filepath.Join(target, f.Name))
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return catalysterr.Wrap(catalysterr.Internal, "extracting directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return catalysterr.Wrap(catalysterr.Internal, "extracting file", err)
		}
		if err := extractZipEntry(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "reading archive entry", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "writing extracted file", err)
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func (t *Tree) decompressTarGz(archiveAbs, target string) error {
	f, err := os.Open(archiveAbs)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "opening archive", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "opening gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return catalysterr.Wrap(catalysterr.Internal, "reading tar entry", err)
		}

		dest, err := t.resolve(filepath.Join(target, hdr.Name))
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return catalysterr.Wrap(catalysterr.Internal, "extracting directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return catalysterr.Wrap(catalysterr.Internal, "extracting file", err)
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return catalysterr.Wrap(catalysterr.Internal, "writing extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
