package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/observability"
	"github.com/noah-isme/codequest-api/internal/repository"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
	// ErrUploadMissing indicates no file was attached.
	ErrUploadMissing = errors.New("file is required")
)

var allowedImageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// AssetService stores question images for test authors.
type AssetService interface {
	Upload(ctx context.Context, actor access.Principal, file *multipart.FileHeader) (dto.AssetResponse, error)
	List(ctx context.Context, actor access.Principal) ([]dto.AssetResponse, error)
}

type assetService struct {
	storage FileStorage
	repo    repository.AssetRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
	now     func() time.Time
}

// NewAssetService constructs an asset service.
func NewAssetService(storage FileStorage, repo repository.AssetRepository, maxSizeMB int, logger zerolog.Logger) AssetService {
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	return &assetService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "asset_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/codequest-api/internal/service/assets"),
		now:     time.Now,
	}
}

// Upload validates and stores an image. Re-uploading identical bytes returns
// the existing asset.
func (s *assetService) Upload(ctx context.Context, actor access.Principal, file *multipart.FileHeader) (dto.AssetResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assets.upload")
	defer span.End()

	if !actor.IsVendor() && !actor.IsAdmin() {
		return dto.AssetResponse{}, fmt.Errorf("%w: only test authors can upload assets", ErrForbidden)
	}

	span.SetAttributes(attribute.Int64("upload.max_bytes", s.maxSize), attribute.Int("upload.owner_id", int(actor.ID)))
	start := s.now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		span.RecordError(ErrUploadMissing)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AssetResponse{}, ErrUploadMissing
	}
	span.SetAttributes(
		attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("upload.request_size", file.Size),
	)

	if file.Size > s.maxSize {
		return dto.AssetResponse{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return dto.AssetResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return dto.AssetResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		return dto.AssetResponse{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	detected := mimetype.Detect(buf.Bytes())
	fileType := strings.ToLower(detected.String())
	if idx := strings.Index(fileType, ";"); idx >= 0 {
		fileType = strings.TrimSpace(fileType[:idx])
	}
	span.SetAttributes(attribute.String("upload.detected_mime", fileType))
	ext, ok := allowedImageTypes[fileType]
	if !ok {
		return dto.AssetResponse{}, s.reject(span, "type", ErrUploadTypeNotAllowed)
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	if existing, err := s.repo.FindByChecksum(ctx, actor.ID, checksum); err == nil {
		span.SetAttributes(attribute.Bool("upload.deduplicated", true))
		return dto.NewAssetResponse(existing), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.AssetResponse{}, err
	}

	name := sanitizeFileName(file.Filename, ext, s.now())
	url, err := s.storage.Upload(ctx, name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return dto.AssetResponse{}, s.reject(span, "storage", err)
	}

	asset := models.Asset{
		OwnerID:   actor.ID,
		FileName:  name,
		URL:       url,
		MimeType:  fileType,
		SizeBytes: int64(buf.Len()),
		Checksum:  checksum,
	}
	if err := s.repo.Create(ctx, &asset); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.AssetResponse{}, err
	}

	observability.UploadRequests().WithLabelValues(fileType).Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Info().Uint("asset_id", asset.ID).Uint("owner_id", actor.ID).Str("mime", fileType).Msg("asset stored")

	return dto.NewAssetResponse(asset), nil
}

func (s *assetService) List(ctx context.Context, actor access.Principal) ([]dto.AssetResponse, error) {
	assets, err := s.repo.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	items := make([]dto.AssetResponse, 0, len(assets))
	for _, asset := range assets {
		items = append(items, dto.NewAssetResponse(asset))
	}
	return items, nil
}

func (s *assetService) reject(span trace.Span, reason string, err error) error {
	observability.UploadRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

// sanitizeFileName keeps [a-z0-9_-] from the base name and forces the
// extension that matches the detected type.
func sanitizeFileName(name, ext string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("asset-%d", now.Unix())
	}
	return base + ext
}
