/*
Package files provides the blob storage collaborator for message attachments
and profile pictures. Clients upload and download blobs directly against
S3-compatible storage using time-limited presigned URLs; only the blob key
travels through the chat system.
*/
package files

import (
	"context"
	"time"
)

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Service defines the public interface for the blob storage service.
type Service interface {
	// PresignUpload generates a pre-signed URL for uploading a blob.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// PresignDownload generates a pre-signed URL for downloading a blob.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes the blob specified by the given key.
	Delete(ctx context.Context, key string) error
}

// NewService is the factory function for Service.
// It initializes and returns a concrete implementation based on the provided configuration.
func NewService(cfg ServiceConfig) (Service, error) {
	// Currently, only S3 compatible implementations are supported.
	return newS3Client(cfg)
}
