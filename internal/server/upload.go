package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart boundaries and headers.
const multipartOverhead = 64 * 1024

var (
	errFileTooLarge    = errors.New("file too large")
	errUnsupportedType = errors.New("unsupported file type")
	errFileMissing     = errors.New("file missing")
)

// imageTypes maps sniffed image content types to the extension they are stored with.
var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// fileExtensions lists the non-image uploads accepted as "file" messages.
var fileExtensions = map[string]struct{}{
	".pdf": {}, ".txt": {}, ".md": {}, ".csv": {}, ".json": {},
	".zip": {}, ".gz": {}, ".7z": {},
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".mp3": {}, ".mp4": {}, ".wav": {}, ".webm": {},
}

// uploadStore writes uploaded bytes into one directory, never overwriting an
// existing file.
type uploadStore struct {
	dir string
	now func() time.Time
}

func newUploadStore(dir string) *uploadStore {
	return &uploadStore{dir: dir, now: time.Now}
}

// save persists data under name, or under a timestamp-suffixed variant when
// name is taken. It returns the name actually used.
func (s *uploadStore) save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidates := []string{
		name,
		fmt.Sprintf("%s-%s%s", stem, s.now().Format("20060102150405"), ext),
		fmt.Sprintf("%s-%s%s", stem, uuid.NewString()[:8], ext),
	}

	for _, candidate := range candidates {
		f, err := os.OpenFile(filepath.Join(s.dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", candidate, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return "", fmt.Errorf("write %s: %w", candidate, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", candidate, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no free name for %s: %w", name, os.ErrExist)
}

// classifyUpload decides whether data is an image or a plain file and returns
// the name it should be stored under.
func classifyUpload(data []byte, filename string) (kind, storedName string, err error) {
	name := sanitizeFilename(filename)
	ext := strings.ToLower(path.Ext(name))

	if imageExt, ok := imageTypes[http.DetectContentType(data)]; ok {
		if ext != imageExt && !(imageExt == ".jpg" && ext == ".jpeg") {
			name = strings.TrimSuffix(name, path.Ext(name)) + imageExt
		}
		return "image", name, nil
	}

	if _, ok := fileExtensions[ext]; ok {
		return "file", name, nil
	}
	return "", "", errUnsupportedType
}

// UploadHandler serves POST /upload. The multipart field "file" carries the
// content; the response is an UploadResult or an error reason.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.handleUpload(w, r)
	if err != nil {
		status := http.StatusBadRequest
		reason := "上传失败"
		switch {
		case errors.Is(err, errFileTooLarge):
			status = http.StatusRequestEntityTooLarge
			reason = fmt.Sprintf("文件过大，最大 %s", formatBytes(s.cfg.MaxUploadBytes))
		case errors.Is(err, errUnsupportedType):
			reason = "仅支持 png/jpeg/gif/webp 图片或常见文档"
		case errors.Is(err, errFileMissing):
			reason = "缺少文件"
		default:
			status = http.StatusInternalServerError
		}
		log.Warn().Err(err).Int("status", status).Msg("[upload] rejected")
		writeJSON(w, status, errorResponse{Error: reason})
		return
	}

	log.Info().Str("url", result.URL).Str("type", result.Type).Int64("size", result.Size).Msg("[upload] stored")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) (*UploadResult, error) {
	limit := s.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errFileTooLarge
		}
		return nil, fmt.Errorf("%w: %v", errFileMissing, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errFileTooLarge
	}

	kind, name, err := classifyUpload(data, header.Filename)
	if err != nil {
		return nil, err
	}

	stored, err := s.uploads.save(name, data)
	if err != nil {
		return nil, err
	}

	return &UploadResult{
		URL:  UploadsPath + url.PathEscape(stored),
		Type: kind,
		Size: int64(len(data)),
		Name: SanitizeDisplayName(path.Base(strings.ReplaceAll(header.Filename, "\\", "/")), stored),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		log.Warn().Err(err).Msg("[upload] write response")
	}
}

func formatBytes(n int64) string {
	const mib = 1024 * 1024
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}
