package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/validation"
)

// uploadVideo accepts multipart field "video". The file is checked before
// it is spooled, so rejected uploads never reach the disk.
func (s *Server) uploadVideo(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if _, err := s.orch.Subject(id); err != nil {
		return s.fail(c, err)
	}

	fh, err := c.FormFile(string(model.FieldVideo))
	if err != nil {
		return s.fail(c, validation.ValidateVideo(nil))
	}
	defer func() {
		if form := c.Request().MultipartForm; form != nil {
			_ = form.RemoveAll()
		}
	}()

	mimeType := fh.Header.Get(echo.HeaderContentType)
	if mimeType == "" || mimeType == echo.MIMEOctetStream {
		mimeType = model.MimeTypeFor(fh.Filename)
	}
	meta := model.NewAttachment(fh.Filename, mimeType, fh.Size, nil)
	if err := validation.ValidateVideo(meta); err != nil {
		return s.fail(c, err)
	}

	path, err := s.spool(fh)
	if err != nil {
		return s.fail(c, err)
	}

	video := model.NewAttachment(meta.Name, meta.MimeType, fh.Size, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
	if err := s.commitUpload(id, video, path); err != nil {
		return s.fail(c, err)
	}

	subj, err := s.orch.Subject(id)
	if err != nil {
		return s.fail(c, err)
	}
	s.log.Info("video uploaded",
		logger.Int("subject_id", id),
		logger.String("video", fh.Filename),
		logger.Int64("video_size", fh.Size))
	return c.JSON(http.StatusOK, viewOf(subj))
}

// spool copies the upload out of the request, whose temporary files are
// deleted when the handler returns.
func (s *Server) spool(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", spoolError(err, fh.Filename)
	}
	defer src.Close()

	ext := filepath.Ext(filepath.Base(fh.Filename))
	path := filepath.Join(s.config.UploadDir, uuid.NewString()+ext)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", spoolError(err, fh.Filename)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		s.removeFile(path)
		return "", spoolError(err, fh.Filename)
	}
	if err := dst.Close(); err != nil {
		s.removeFile(path)
		return "", spoolError(err, fh.Filename)
	}
	return path, nil
}

// commitUpload attaches video to the subject and records its spooled file.
// Both steps run under videoMu so the recorded path always belongs to the
// attached video, and a subject removed meanwhile leaves no file behind.
func (s *Server) commitUpload(id int, video *model.VideoAttachment, path string) error {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	if err := s.orch.SetVideo(id, video); err != nil {
		s.removeFile(path)
		return err
	}
	s.replaceUpload(id, path)
	return nil
}

// removeSubject drops the subject and its spooled file together.
func (s *Server) removeSubject(id int) bool {
	s.videoMu.Lock()
	defer s.videoMu.Unlock()

	if !s.orch.RemoveSubject(id) {
		return false
	}
	s.discardUpload(id)
	return true
}

func (s *Server) replaceUpload(id int, path string) {
	s.uploadsMu.Lock()
	old, ok := s.uploads[id]
	s.uploads[id] = path
	s.uploadsMu.Unlock()

	// a request already streaming the old file keeps its open descriptor
	if ok {
		s.removeFile(old)
	}
}

func (s *Server) discardUpload(id int) {
	s.uploadsMu.Lock()
	path, ok := s.uploads[id]
	delete(s.uploads, id)
	s.uploadsMu.Unlock()

	if ok {
		s.removeFile(path)
	}
}

func (s *Server) removeUploads() {
	s.uploadsMu.Lock()
	paths := s.uploads
	s.uploads = make(map[int]string)
	s.uploadsMu.Unlock()

	for _, path := range paths {
		s.removeFile(path)
	}
}

func (s *Server) removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove spooled video", logger.String("path", path), logger.Error(err))
	}
}

func spoolError(err error, name string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryFileIO).
		Context("video", name).
		Build()
}
