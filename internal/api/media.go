package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ashureev/walink/internal/media"
)

const (
	maxUploadFiles  = 2
	maxUploadMemory = 32 << 20 // 32MB, multipart spillover goes to disk
)

// UploadPhoto accepts multipart uploads (field "photos", at most two files)
// and forwards them to the given chat on the given session. Each file's
// temporary copy is released after its send attempt, success or not.
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Debug("Failed to clean multipart form", "error", err)
		}
	}()

	chatID := r.FormValue("chat")
	sessionID := r.FormValue("sessionId")
	if chatID == "" || sessionID == "" {
		Error(w, http.StatusBadRequest, "chat and sessionId are required")
		return
	}

	if _, err := h.registry.Get(sessionID); err != nil {
		Error(w, http.StatusBadRequest, "session not found or data incomplete")
		return
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		Error(w, http.StatusBadRequest, "no photos attached")
		return
	}
	if len(files) > maxUploadFiles {
		Error(w, http.StatusBadRequest, fmt.Sprintf("at most %d photos per request", maxUploadFiles))
		return
	}

	attachments, err := h.stageUploads(files)
	if err != nil {
		slog.Error("Failed to stage uploads", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store uploads")
		return
	}

	caption := r.FormValue("caption")
	result := h.bridge.Deliver(r.Context(), sessionID, chatID, caption, attachments)

	if result.AllSent() {
		JSON(w, http.StatusOK, map[string]string{"message": "photos sent"})
		return
	}

	JSON(w, http.StatusBadGateway, map[string]interface{}{
		"error":         "some photos failed to send",
		"sent":          result.Sent,
		"failedIndices": result.FailedIndices,
	})
}

// stageUploads copies multipart files into the upload directory so the
// bridge owns their lifecycle. On error, already-staged files are released.
func (h *Handler) stageUploads(files []*multipart.FileHeader) ([]media.Attachment, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	var attachments []media.Attachment
	for _, fh := range files {
		att, err := h.stageOne(fh)
		if err != nil {
			for _, staged := range attachments {
				if rmErr := os.Remove(staged.Path); rmErr != nil {
					slog.Warn("Failed to release staged upload", "path", staged.Path, "error", rmErr)
				}
			}
			return nil, err
		}
		attachments = append(attachments, att)
	}
	return attachments, nil
}

func (h *Handler) stageOne(fh *multipart.FileHeader) (media.Attachment, error) {
	src, err := fh.Open()
	if err != nil {
		return media.Attachment{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			slog.Debug("Failed to close upload stream", "file", fh.Filename, "error", closeErr)
		}
	}()

	dst, err := os.CreateTemp(h.cfg.UploadDir, "upload-*")
	if err != nil {
		return media.Attachment{}, fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return media.Attachment{}, fmt.Errorf("write upload %s: %w", fh.Filename, err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return media.Attachment{}, fmt.Errorf("close temp file: %w", err)
	}

	return media.Attachment{
		Path:     dst.Name(),
		FileName: filepath.Base(fh.Filename),
		MimeType: fh.Header.Get("Content-Type"),
	}, nil
}
