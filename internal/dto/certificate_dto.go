package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// CertificateResponse serializes a certificate for its holder or a verifier.
type CertificateResponse struct {
	UUID          string    `json:"uuid"`
	UserID        uint      `json:"user_id"`
	CandidateName string    `json:"candidate_name,omitempty"`
	TestID        uint      `json:"test_id"`
	TestTitle     string    `json:"test_title,omitempty"`
	Score         int       `json:"score"`
	TotalMarks    int       `json:"total_marks"`
	Percentage    float64   `json:"percentage"`
	Type          string    `json:"type"`
	IssuedAt      time.Time `json:"issued_at"`
	VerifyURL     string    `json:"verify_url,omitempty"`
}

// NewCertificateResponse converts a certificate into a DTO. Preloaded user and
// test names are included when present.
func NewCertificateResponse(certificate models.Certificate, verifyBaseURL string) CertificateResponse {
	response := CertificateResponse{
		UUID:       certificate.UUID,
		UserID:     certificate.UserID,
		TestID:     certificate.TestID,
		Score:      certificate.Score,
		TotalMarks: certificate.TotalMarks,
		Percentage: certificate.Percentage,
		Type:       certificate.Type,
		IssuedAt:   certificate.IssuedAt,
	}
	if certificate.User.ID != 0 {
		response.CandidateName = certificate.User.Name
	}
	if certificate.Test.ID != 0 {
		response.TestTitle = certificate.Test.Title
	}
	if verifyBaseURL != "" {
		response.VerifyURL = verifyBaseURL + "/certificates/" + certificate.UUID
	}
	return response
}
