package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/codequest-api/internal/access"
	"github.com/noah-isme/codequest-api/internal/dto"
	"github.com/noah-isme/codequest-api/internal/repository"
)

// CertificateService lists and verifies issued certificates.
type CertificateService interface {
	Mine(ctx context.Context, actor access.Principal) ([]dto.CertificateResponse, error)
	Verify(ctx context.Context, uuid string) (dto.CertificateResponse, error)
}

type certificateService struct {
	certificates  repository.CertificateRepository
	verifyBaseURL string
	logger        zerolog.Logger
}

// NewCertificateService constructs the certificate service. verifyBaseURL
// prefixes the public verification link.
func NewCertificateService(certificates repository.CertificateRepository, verifyBaseURL string, logger zerolog.Logger) CertificateService {
	return &certificateService{
		certificates:  certificates,
		verifyBaseURL: strings.TrimRight(verifyBaseURL, "/"),
		logger:        logger.With().Str("component", "certificate_service").Logger(),
	}
}

func (s *certificateService) Mine(ctx context.Context, actor access.Principal) ([]dto.CertificateResponse, error) {
	certificates, err := s.certificates.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	items := make([]dto.CertificateResponse, 0, len(certificates))
	for _, certificate := range certificates {
		items = append(items, dto.NewCertificateResponse(certificate, s.verifyBaseURL))
	}
	return items, nil
}

// Verify is public; anyone holding the UUID may check a certificate.
func (s *certificateService) Verify(ctx context.Context, uuid string) (dto.CertificateResponse, error) {
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return dto.CertificateResponse{}, ErrCertificateNotFound
	}

	certificate, err := s.certificates.GetByUUID(ctx, uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CertificateResponse{}, ErrCertificateNotFound
		}
		return dto.CertificateResponse{}, err
	}

	s.logger.Debug().Str("uuid", uuid).Msg("certificate verified")
	return dto.NewCertificateResponse(certificate, s.verifyBaseURL), nil
}
