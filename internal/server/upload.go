package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/flightlog/internal/flash"
	"github.com/tomasbasham/flightlog/internal/logfile"
	"github.com/tomasbasham/flightlog/internal/storage"
	"github.com/tomasbasham/flightlog/internal/upload"
)

// Form field names submitted by the upload page.
const (
	fieldTaskID  = "task_id"
	fieldLogFile = "logfile"
)

// maxMemory is the part of a multipart body kept in memory; the rest spills
// to temporary files.
const maxMemory = 8 << 20

// formOverhead is allowed on top of the upload limit for the multipart
// framing and the other form fields.
const formOverhead = 1 * units.MiB

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize+formOverhead)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, s.tooLargeMessage())
			return
		}
		s.reject(w, r, "Invalid upload request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	taskID := strings.TrimSpace(r.FormValue(fieldTaskID))
	if taskID == "" {
		s.reject(w, r, "Task ID is required")
		return
	}
	if strings.ContainsAny(taskID, `/\`) {
		s.reject(w, r, "Task ID must not contain path separators")
		return
	}

	file, header, err := r.FormFile(fieldLogFile)
	if err != nil {
		s.reject(w, r, "No file selected")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.reject(w, r, "No file selected")
		return
	}
	if !strings.HasSuffix(header.Filename, logfile.Suffix) {
		s.reject(w, r, fmt.Sprintf("Only %s flight logs are accepted", logfile.Suffix))
		return
	}
	if header.Size > s.opts.MaxUploadSize {
		s.reject(w, r, s.tooLargeMessage())
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"task_id":    taskID,
		"filename":   header.Filename,
		"size":       header.Size,
	})

	tmpPath, err := s.spool(file)
	if err != nil {
		log.WithError(err).Error("Failed to spool upload")
		s.reject(w, r, "Upload failed. Please check logs for details.")
		return
	}
	defer os.Remove(tmpPath)

	req := upload.NewRequest(taskID, tmpPath)
	result, err := upload.Transfer(r.Context(), s.uploader, req)
	if err != nil {
		log.WithError(err).Error("Upload failed")
		s.reject(w, r, failureMessage(err))
		return
	}

	log.WithField("uri", result.URI).Info("File uploaded")

	msgs := []flash.Message{{
		Level: flash.LevelSuccess,
		Text:  fmt.Sprintf("File uploaded successfully to %s", req.DestinationKey),
	}}
	if url := s.downloadURL(r, log, req.DestinationKey); url != "" {
		msgs = append(msgs, flash.Message{Level: flash.LevelInfo, Text: "Download URL", URL: url})
	}
	s.redirectWithFlash(w, r, msgs...)
}

// spool copies the submitted file to a temporary file so it can be uploaded
// through the same path as files found on disk.
func (s *Server) spool(src multipart.File) (string, error) {
	tmp, err := os.CreateTemp(s.opts.TempDir, "flightlog-*"+logfile.Suffix)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// downloadURL returns a signed link to objectName when the backend supports
// signing and links are enabled. Failures are logged and yield no link.
func (s *Server) downloadURL(r *http.Request, log logrus.FieldLogger, objectName string) string {
	signer, ok := s.uploader.(storage.Signer)
	if !ok || s.opts.SignedURLTTL <= 0 {
		return ""
	}
	url, _, err := signer.SignURL(r.Context(), objectName, s.opts.SignedURLTTL)
	if err != nil {
		log.WithError(err).Warn("Failed to sign download URL")
		return ""
	}
	return url
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, text string) {
	s.redirectWithFlash(w, r, flash.Message{Level: flash.LevelError, Text: text})
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("File exceeds the %s upload limit", units.BytesSize(float64(s.opts.MaxUploadSize)))
}

func failureMessage(err error) string {
	var authErr *storage.AuthenticationError
	if errors.As(err, &authErr) {
		return "Upload failed: storage credentials were rejected."
	}
	return "Upload failed. Please check logs for details."
}
