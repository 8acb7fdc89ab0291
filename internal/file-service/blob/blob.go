package blob

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
)

const (
	dirMode  fs.FileMode = 0o755
	fileMode fs.FileMode = 0o644
)

var (
	ErrInvalidName       = apperr.Validationf("filename contains invalid path sequence")
	ErrEmptyName         = apperr.Validationf("stored name is empty")
	ErrCantCreateRootDir = errors.New("can't create upload dir")
)

// Storage keeps uploaded blobs flat under root, one file per stored name.
type Storage struct {
	fs   afero.Fs
	root string
	l    *log.Entry
}

func NewStorage(fsys afero.Fs, root string, l *log.Entry) (*Storage, error) {
	root = filepath.Clean(root)
	if ok, _ := afero.DirExists(fsys, root); !ok {
		if err := fsys.MkdirAll(root, dirMode); err != nil {
			return nil, apperr.Storage(err, "%s %s", ErrCantCreateRootDir, root)
		}
	}
	return &Storage{fs: fsys, root: root, l: l.WithField("upload_dir", root)}, nil
}

// Store copies r into a new file named by a random UUID plus the extension of
// originalName and returns that name with the number of bytes written.
// An existing file with the same name is overwritten.
func (s *Storage) Store(r io.Reader, originalName string) (string, int64, error) {
	if strings.Contains(originalName, "..") {
		s.l.WithField("original_name", originalName).Warn(ErrInvalidName)
		return "", 0, apperr.Validationf("filename contains invalid path sequence %s", originalName)
	}

	storedName := uuid.NewString()
	if ext := Extension(originalName); ext != "" {
		storedName += "." + ext
	}
	p := filepath.Join(s.root, storedName)
	l := s.l.WithFields(log.Fields{"original_name": originalName, "stored_name": storedName})

	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		l.WithError(err).Error("can't create blob file")
		return "", 0, apperr.Storage(err, "can't store file %s", originalName)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		l.WithError(err).Error("can't write blob file")
		if rmErr := s.fs.Remove(p); rmErr != nil {
			l.WithError(rmErr).Warn("can't remove partial blob file")
		}
		return "", 0, apperr.Storage(err, "can't store file %s", originalName)
	}
	if err := f.Close(); err != nil {
		l.WithError(err).Error("can't close blob file")
		return "", 0, apperr.Storage(err, "can't store file %s", originalName)
	}

	l.WithField("size", n).Debug("blob stored")
	return storedName, n, nil
}

// Load opens the blob for reading. The caller closes the returned reader.
func (s *Storage) Load(storedName string) (io.ReadCloser, error) {
	p, err := s.resolve(storedName)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFoundf("file %s", storedName)
		}
		s.l.WithField("stored_name", storedName).WithError(err).Error("can't stat blob file")
		return nil, apperr.Storage(err, "can't read file %s", storedName)
	}
	if info.IsDir() {
		return nil, apperr.NotFoundf("file %s", storedName)
	}

	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFoundf("file %s", storedName)
		}
		s.l.WithField("stored_name", storedName).WithError(err).Error("can't open blob file")
		return nil, apperr.Storage(err, "can't read file %s", storedName)
	}
	return f, nil
}

// Exists reports whether a blob is present under storedName.
func (s *Storage) Exists(storedName string) (bool, error) {
	p, err := s.resolve(storedName)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, apperr.Storage(err, "can't check file %s", storedName)
	}
	return ok, nil
}

// Delete removes the blob. A blob that is already gone is not an error.
func (s *Storage) Delete(storedName string) error {
	l := s.l.WithField("stored_name", storedName)
	p, err := s.resolve(storedName)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			l.Debug("blob to delete is outside of upload dir, nothing to do")
			return nil
		}
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.Info("attempted to delete blob that did not exist")
			return nil
		}
		l.WithError(err).Error("can't delete blob file")
		return apperr.Storage(err, "can't delete file %s", storedName)
	}
	l.Debug("blob deleted")
	return nil
}

// resolve joins storedName to root. Names that escape root are reported as
// not found.
func (s *Storage) resolve(storedName string) (string, error) {
	if storedName == "" {
		return "", ErrEmptyName
	}
	p := filepath.Join(s.root, storedName)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.NotFoundf("file %s", storedName)
	}
	return p, nil
}

// Extension returns the part of the file's base name after its last dot,
// or "" when there is none.
func Extension(name string) string {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return base[i+1:]
}
