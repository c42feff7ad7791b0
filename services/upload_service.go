package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"ghost-chat/domain"
	"ghost-chat/domain/mimetypes"
	"ghost-chat/errors"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// FileSaver persists upload metadata.
type FileSaver interface {
	SaveFile(record domain.FileRecord) (domain.FileRecord, error)
}

type IUploadService interface {
	Upload(ctx context.Context, in Upload) (domain.FileRecord, error)
}

// Upload is one file received from a client.
// DeclaredType is the Content-Type sent with the part and is only trusted
// when it agrees with the sniffed content.
type Upload struct {
	OriginalName string
	DeclaredType string
	UploadedBy   string
	Body         io.Reader
}

type UploadService struct {
	log     *slog.Logger
	files   FileSaver
	clock   clockwork.Clock
	dir     string
	maxSize int64
}

func NewUploadService(log *slog.Logger, files FileSaver, clock clockwork.Clock, dir string, maxSize int64) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create upload directory %s: %w", dir, err)
	}
	return &UploadService{
		log:     log,
		files:   files,
		clock:   clock,
		dir:     dir,
		maxSize: maxSize,
	}, nil
}

// Dir is where stored files live.
func (s *UploadService) Dir() string { return s.dir }

// Upload checks size and content type, writes the file under a unique name and records it.
func (s *UploadService) Upload(ctx context.Context, in Upload) (domain.FileRecord, error) {
	if in.Body == nil {
		return domain.FileRecord{}, errors.ErrNoFile
	}
	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxSize+1))
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("unable to read upload: %w", err)
	}
	if len(data) == 0 {
		return domain.FileRecord{}, errors.ErrNoFile
	}
	if int64(len(data)) > s.maxSize {
		return domain.FileRecord{}, fmt.Errorf("%w: limit is %d bytes", errors.ErrFileTooLarge, s.maxSize)
	}

	kind := mimetype.Detect(data)
	if _, ok := mimetypes.Allowed(kind.Is); !ok {
		return domain.FileRecord{}, fmt.Errorf("%w: %s", errors.ErrFileTypeNotAllowed, kind.String())
	}
	contentType := kind.String()
	if declared, ok := mimetypes.Allowed(func(m string) bool {
		_, match := mimetypes.Matches(in.DeclaredType, mimetypes.MIME(m))
		return match && kind.Is(m)
	}); ok {
		contentType = string(declared)
	}

	ext := filepath.Ext(in.OriginalName)
	if ext == "" {
		ext = kind.Extension()
	}
	name := fmt.Sprintf("%d-%s%s", s.clock.Now().UnixMilli(), uuid.NewString(), ext)
	path := filepath.Join(s.dir, name)

	if err := ctx.Err(); err != nil {
		return domain.FileRecord{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.FileRecord{}, fmt.Errorf("unable to write %s: %w", path, err)
	}

	uploadedBy := in.UploadedBy
	if uploadedBy == "" {
		uploadedBy = "unknown"
	}
	record, err := s.files.SaveFile(domain.FileRecord{
		OriginalName: filepath.Base(in.OriginalName),
		FileName:     name,
		Path:         path,
		MimeType:     contentType,
		Size:         int64(len(data)),
		UploadedBy:   uploadedBy,
		UploadedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("unable to remove orphan upload", "path", path, "error", rmErr)
		}
		return domain.FileRecord{}, err
	}

	s.log.Info("File uploaded", "name", record.OriginalName, "size", record.Size, "type", record.MimeType)
	return record, nil
}
