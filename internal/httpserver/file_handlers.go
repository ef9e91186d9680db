package httpserver

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HananKavitz/ChatGPTLike/internal/store"
)

var allowedUploadExts = map[string]struct{}{
	".xlsx": {},
	".xls":  {},
	".csv":  {},
}

type filePayload struct {
	ID           int64     `json:"id"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func toFilePayload(f *store.UploadedFile) filePayload {
	return filePayload{ID: f.ID, OriginalName: f.OriginalName, Size: f.Size, UploadedAt: f.UploadedAt}
}

// handleUploadFile stores a spreadsheet for the session. Uploads are
// size-capped and restricted to spreadsheet extensions; the stored filename
// is a generated UUID so original names never touch the filesystem.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.respondError(w, http.StatusRequestEntityTooLarge, errors.New("upload too large"))
		return
	}
	src, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("file field required"))
		return
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedUploadExts[ext]; !ok {
		s.respondError(w, http.StatusBadRequest, errors.New("only .xlsx, .xls and .csv files are accepted"))
		return
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	storedName := uuid.NewString() + ext
	path := filepath.Join(s.uploadDir, storedName)
	dst, err := os.Create(path)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	size, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(path)
		s.respondError(w, http.StatusInternalServerError, errors.New("saving upload failed"))
		return
	}

	file, err := s.store.AddFile(r.Context(), &store.UploadedFile{
		SessionID:    sess.ID,
		StoredName:   storedName,
		OriginalName: header.Filename,
		Path:         path,
		Size:         size,
		MimeType:     header.Header.Get("Content-Type"),
	})
	if err != nil {
		_ = os.Remove(path)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toFilePayload(file))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	files, err := s.store.FilesBySession(r.Context(), sess.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]filePayload, 0, len(files))
	for i := range files {
		out = append(out, toFilePayload(&files[i]))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"files": out})
}

// handleDeleteFile removes the file row and its bytes.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "fileID")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	file, err := s.store.FileByID(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if file == nil {
		s.respondError(w, http.StatusNotFound, errors.New("file not found"))
		return
	}
	sess, err := s.store.SessionByID(r.Context(), file.SessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if sess == nil || sess.UserID != s.claims(r).UserID {
		s.respondError(w, http.StatusForbidden, errors.New("file belongs to another user"))
		return
	}

	if err := s.store.DeleteFile(r.Context(), file.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if err := os.Remove(file.Path); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("[WARN] remove uploaded file %s: %v", file.Path, err)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"deleted": file.ID})
}
