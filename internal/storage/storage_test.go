package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/authserver/config"
)

func TestOpen_RejectsUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), "ftp", config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp")
}

func TestNewMinioClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MinioConfig
		want string
	}{
		{"missing endpoint", config.MinioConfig{AccessKey: "a", SecretKey: "s", Bucket: "b"}, "endpoint"},
		{"missing keys", config.MinioConfig{Endpoint: "localhost:9000", Bucket: "b"}, "access key"},
		{"missing bucket", config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, "bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMinioClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewMinioClient_DoesNotDial(t *testing.T) {
	client, err := NewMinioClient(config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "storefront-mail",
	})
	require.NoError(t, err)
	assert.Equal(t, "storefront-mail", client.Bucket())
}

func TestNewGCSClient_RequiresBucket(t *testing.T) {
	_, err := NewGCSClient(context.Background(), config.GCSConfig{})
	require.Error(t, err)
}
