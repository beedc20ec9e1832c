// Package logfile finds the most recent flight log among the files of one or
// more directories. Selection is a pure function over file metadata; listing
// goes through an afero.Fs so callers can substitute an in-memory filesystem.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Suffix identifies flight-log files produced by the flight controller.
const Suffix = ".bin"

// LogFile is a candidate file on disk.
type LogFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// NoMatchingFileError is returned when no file with the requested suffix could
// be found. Err is set when the directory itself could not be read.
type NoMatchingFileError struct {
	Dir    string
	Suffix string
	Err    error
}

func (e *NoMatchingFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("logfile: no %s files in %s: %v", e.Suffix, e.Dir, e.Err)
	}
	return fmt.Sprintf("logfile: no %s files in %s", e.Suffix, e.Dir)
}

func (e *NoMatchingFileError) Unwrap() error {
	return e.Err
}

// Latest returns the file whose name ends with suffix and whose modification
// time is the most recent. Equal times are broken by the lexicographically
// greatest file name, then by the greatest full path, so the result does not
// depend on the order of files.
func Latest(files []LogFile, suffix string) (LogFile, error) {
	var (
		best  LogFile
		found bool
	)
	for _, f := range files {
		if !strings.HasSuffix(filepath.Base(f.Path), suffix) {
			continue
		}
		if !found || newer(f, best) {
			best = f
			found = true
		}
	}
	if !found {
		return LogFile{}, &NoMatchingFileError{Suffix: suffix}
	}
	return best, nil
}

func newer(a, b LogFile) bool {
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	an, bn := filepath.Base(a.Path), filepath.Base(b.Path)
	if an != bn {
		return an > bn
	}
	return a.Path > b.Path
}

// Selector lists directories on a filesystem and picks the latest log file.
type Selector struct {
	fs  afero.Fs
	log logrus.FieldLogger
}

// NewSelector creates a Selector reading from fs.
func NewSelector(fs afero.Fs, log logrus.FieldLogger) *Selector {
	return &Selector{
		fs:  fs,
		log: log.WithField("component", "selector"),
	}
}

// List returns the regular files directly inside dir. Symbolic links are
// followed and reported with the link's path and the target's metadata.
// Subdirectories are not descended into and file contents are never opened.
func (s *Selector) List(dir string) ([]LogFile, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, err
	}

	files := make([]LogFile, 0, len(infos))
	for _, info := range infos {
		path := filepath.Join(dir, info.Name())
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := s.fs.Stat(path)
			if err != nil {
				s.log.WithError(err).WithField("path", path).Debug("Skipping unresolvable link")
				continue
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, LogFile{
			Path:    path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return files, nil
}

// SelectLatest returns the most recent file in dir whose name ends with
// suffix. A directory that is missing or cannot be read is reported as a
// NoMatchingFileError wrapping the cause.
func (s *Selector) SelectLatest(dir, suffix string) (LogFile, error) {
	files, err := s.List(dir)
	if err != nil {
		return LogFile{}, &NoMatchingFileError{Dir: dir, Suffix: suffix, Err: err}
	}

	latest, err := Latest(files, suffix)
	if err != nil {
		return LogFile{}, &NoMatchingFileError{Dir: dir, Suffix: suffix}
	}

	s.log.WithFields(logrus.Fields{
		"path":     latest.Path,
		"modified": latest.ModTime.Format(time.RFC3339),
		"size":     latest.Size,
	}).Info("Found latest log file")

	return latest, nil
}

// SelectLatestFrom considers the files of every directory in dirs together.
// Directories that cannot be listed are skipped; an error is returned only
// when none of them holds a matching file.
func (s *Selector) SelectLatestFrom(dirs []string, suffix string) (LogFile, error) {
	var candidates []LogFile
	for _, dir := range dirs {
		files, err := s.List(dir)
		if err != nil {
			s.log.WithError(err).WithField("dir", dir).Warn("Skipping unreadable log directory")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"dir":   dir,
			"files": len(files),
		}).Debug("Listed log directory")
		candidates = append(candidates, files...)
	}

	latest, err := Latest(candidates, suffix)
	if err != nil {
		return LogFile{}, &NoMatchingFileError{Dir: strings.Join(dirs, ", "), Suffix: suffix}
	}

	s.log.WithFields(logrus.Fields{
		"path":     latest.Path,
		"modified": latest.ModTime.Format(time.RFC3339),
		"size":     latest.Size,
	}).Info("Found latest log file")

	return latest, nil
}
