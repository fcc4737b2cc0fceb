package minio

import (
	"context"
	"errors"
	"testing"

	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingEndpoint", func(t *testing.T) {
		_, err := New(ctx, Config{Bucket: "uploads"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint is required")
	})

	t.Run("MissingBucket", func(t *testing.T) {
		_, err := New(ctx, Config{Endpoint: "localhost:9000"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("FullURLEndpoint", func(t *testing.T) {
		b, err := New(ctx, Config{
			Endpoint:        "https://minio.example.com:9000",
			Bucket:          "uploads",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			Prefix:          "site/",
		})
		require.NoError(t, err)
		assert.Equal(t, "minio.example.com:9000", b.client.EndpointURL().Host)
		assert.Equal(t, "https", b.client.EndpointURL().Scheme)
		assert.Equal(t, "site/avatars/a.png", b.key("/avatars/a.png"))
	})
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}
