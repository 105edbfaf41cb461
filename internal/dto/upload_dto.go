package dto

import (
	"time"

	"github.com/noah-isme/codequest-api/internal/models"
)

// AssetResponse describes a stored asset.
type AssetResponse struct {
	ID        uint      `json:"id"`
	URL       string    `json:"url"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAssetResponse converts an asset model into a DTO.
func NewAssetResponse(asset models.Asset) AssetResponse {
	return AssetResponse{
		ID:        asset.ID,
		URL:       asset.URL,
		FileName:  asset.FileName,
		MimeType:  asset.MimeType,
		SizeBytes: asset.SizeBytes,
		Checksum:  asset.Checksum,
		CreatedAt: asset.CreatedAt,
	}
}
