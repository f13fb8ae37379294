package handler

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxUploadSize = 8 << 20 // 8 MiB

var allowedImageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// UploadImage принимает изображение товара из multipart-поля "image",
// проверяет расширение и заявленный тип и сохраняет файл под случайным
// именем в каталоге загрузок.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	wantType, ok := allowedImageTypes[ext]
	if !ok {
		respondError(w, http.StatusBadRequest, "images only (jpg, jpeg, png, webp)")
		return
	}

	if ct := header.Header.Get("Content-Type"); ct != wantType {
		respondError(w, http.StatusBadRequest, "images only (jpg, jpeg, png, webp)")
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.Error("create upload dir", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		h.logger.Error("create upload file", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.logger.Error("write upload file", zap.Error(err))
		respondError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"image": "/uploads/" + name})
}
