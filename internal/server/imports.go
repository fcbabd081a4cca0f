package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spinlog/spinlog/internal/repositories"
	"github.com/spinlog/spinlog/internal/shared"
)

// ImportHandler accepts archive uploads and enqueues them for the worker.
// The file lands in the upload directory under a generated name; the worker
// owns it from there.
type ImportHandler struct {
	users     *repositories.UserRepository
	imports   *repositories.ImportRepository
	uploadDir string
	maxBytes  int64
}

// NewImportHandler creates the upload handler. maxZipSizeMB bounds the
// accepted request body.
func NewImportHandler(users *repositories.UserRepository, imports *repositories.ImportRepository, uploadDir string, maxZipSizeMB int) *ImportHandler {
	if maxZipSizeMB <= 0 {
		maxZipSizeMB = 500
	}
	return &ImportHandler{
		users:     users,
		imports:   imports,
		uploadDir: uploadDir,
		maxBytes:  int64(maxZipSizeMB) << 20,
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *ImportHandler) Routes() []string {
	return []string{"/imports"}
}

func (h *ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, fmt.Errorf("%w: %s", shared.ErrArchiveTooLarge, "upload exceeds the configured size limit"))
		return
	}

	userID := r.FormValue("user_id")
	if _, err := h.users.Get(userID); err != nil {
		writeError(w, err)
		return
	}

	file, _, err := r.FormFile("archive")
	if err != nil {
		writeError(w, fmt.Errorf("%w: archive file field is required", shared.ErrInvalidArgument))
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(w, fmt.Errorf("failed to create upload directory: %w", err))
		return
	}

	path := filepath.Join(h.uploadDir, uuid.NewString()+".zip")
	size, err := h.saveUpload(path, file)
	if err != nil {
		writeError(w, err)
		return
	}

	job, err := h.imports.Enqueue(userID, path, size)
	if err != nil {
		os.Remove(path)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"import_id": job.ID,
		"status":    string(job.Status),
	})
}

func (h *ImportHandler) saveUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("failed to store upload: %w", err)
	}
	return size, nil
}
