package cloudinary

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestPublicID(t *testing.T) {
	require.Equal(t, "question-1", PublicID("question 1.png"))
	require.Equal(t, "diagram_v2", PublicID("/tmp/diagram_v2.webp"))
	require.Equal(t, "asset", PublicID("???.gif"))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNotConfigured)

	storage, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/codequest/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "codequest", storage.folder)
}
