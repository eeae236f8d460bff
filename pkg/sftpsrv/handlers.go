package sftpsrv

import (
	"io"
	"os"
	"path"
	"time"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/filetree"
	"github.com/pkg/sftp"
)

// Permission tokens per spec section 4.7's mapping. "*" bypasses these via
// access.Evaluator.Check itself, so no special-casing is needed here.
const (
	permRead   = "file.read"
	permWrite  = "file.write"
	permDelete = "file.delete"
)

// Fileread implements sftp.FileReader: open-for-read requires file.read.
func (s *session) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	if err := s.checkPermission(permRead); err != nil {
		return nil, toSFTPError(err)
	}

	var data []byte
	err := s.submit(func() error {
		d, err := s.tree.ReadFile(r.Filepath)
		data = d
		return err
	})
	if err != nil {
		return nil, toSFTPError(err)
	}
	return &byteReaderAt{data: data}, nil
}

// Filewrite implements sftp.FileWriter: open-for-write requires file.write.
// Content is buffered and flushed to the file tree when the handle closes
// (io.WriterAt gives no explicit close hook, so the buffer is flushed via
// sftp's generated Close through this type's Close method).
func (s *session) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	if err := s.checkPermission(permWrite); err != nil {
		return nil, toSFTPError(err)
	}
	return &bufferedWriterAt{session: s, path: r.Filepath}, nil
}

// Filecmd implements sftp.FileCmder: Setstat/Rename/Mkdir require
// file.write; Rmdir/Remove require file.delete.
func (s *session) Filecmd(r *sftp.Request) error {
	switch r.Method {
	case "Setstat":
		if err := s.checkPermission(permWrite); err != nil {
			return toSFTPError(err)
		}
		mode := os.FileMode(r.Attributes().Mode).Perm()
		return toSFTPError(s.submit(func() error {
			return s.tree.Chmod(r.Filepath, modeToString(mode))
		}))

	case "Rename":
		if err := s.checkPermission(permWrite); err != nil {
			return toSFTPError(err)
		}
		return toSFTPError(s.submit(func() error {
			return s.tree.Rename(r.Filepath, r.Target)
		}))

	case "Mkdir":
		if err := s.checkPermission(permWrite); err != nil {
			return toSFTPError(err)
		}
		return toSFTPError(s.submit(func() error {
			return s.tree.CreateDir(r.Filepath)
		}))

	case "Rmdir", "Remove":
		if err := s.checkPermission(permDelete); err != nil {
			return toSFTPError(err)
		}
		return toSFTPError(s.submit(func() error {
			return s.tree.DeleteRecursive(r.Filepath)
		}))

	default:
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist implements sftp.FileLister: List/Stat/Lstat/Readlink all
// require file.read. Readlink/Realpath never leak the real chroot base —
// they answer with Tree.Logical, per spec section 4.7's REALPATH rule.
func (s *session) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	if err := s.checkPermission(permRead); err != nil {
		return nil, toSFTPError(err)
	}

	switch r.Method {
	case "List":
		var entries []filetree.Entry
		err := s.submit(func() error {
			e, err := s.tree.List(r.Filepath)
			entries = e
			return err
		})
		if err != nil {
			return nil, toSFTPError(err)
		}
		infos := make([]os.FileInfo, len(entries))
		for i, e := range entries {
			infos[i] = entryFileInfo{e}
		}
		return sftp.ListerAt(infos), nil

	case "Stat", "Lstat":
		var entry filetree.Entry
		err := s.submit(func() error {
			e, err := s.tree.Stat(r.Filepath)
			entry = e
			return err
		})
		if err != nil {
			return nil, toSFTPError(err)
		}
		return sftp.ListerAt([]os.FileInfo{entryFileInfo{entry}}), nil

	case "Readlink", "Realpath":
		abs, err := s.tree.AbsPath(r.Filepath)
		if err != nil {
			return nil, toSFTPError(err)
		}
		logical := s.tree.Logical(abs)
		return sftp.ListerAt([]os.FileInfo{entryFileInfo{filetree.Entry{Name: path.Base(logical)}}}), nil

	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

func toSFTPError(err error) error {
	if err == nil {
		return nil
	}
	switch catalysterr.KindOf(err) {
	case catalysterr.NotFound:
		return os.ErrNotExist
	case catalysterr.Forbidden, catalysterr.Locked, catalysterr.PathTraversal:
		return os.ErrPermission
	default:
		return err
	}
}

func modeToString(mode os.FileMode) string {
	return sftpOctal(uint32(mode))
}

func sftpOctal(mode uint32) string {
	const digits = "01234567"
	if mode == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for mode > 0 {
		i--
		buf[i] = digits[mode%8]
		mode /= 8
	}
	return string(buf[i:])
}

// byteReaderAt adapts an in-memory buffer to io.ReaderAt for Fileread.
type byteReaderAt struct {
	data []byte
}

func (b *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// bufferedWriterAt accumulates writes at arbitrary offsets, then flushes
// the whole file on Close — simpler than threading a seekable os.File
// through the confinement layer, and files transferred over SFTP are
// config/world data small enough to buffer.
type bufferedWriterAt struct {
	session *session
	path    string
	buf     []byte
}

func (w *bufferedWriterAt) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(w.buf)) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[off:end], p)
	return len(p), nil
}

func (w *bufferedWriterAt) Close() error {
	return toSFTPError(w.session.submit(func() error {
		return w.session.tree.WriteFile(w.path, w.buf)
	}))
}

// entryFileInfo adapts filetree.Entry to os.FileInfo for sftp.ListerAt.
type entryFileInfo struct {
	e filetree.Entry
}

func (f entryFileInfo) Name() string       { return f.e.Name }
func (f entryFileInfo) Size() int64        { return f.e.SizeB }
func (f entryFileInfo) Mode() os.FileMode  { return f.e.Mode }
func (f entryFileInfo) ModTime() time.Time { return time.Unix(f.e.ModTime, 0) }
func (f entryFileInfo) IsDir() bool        { return f.e.IsDir }
func (f entryFileInfo) Sys() interface{}   { return nil }
