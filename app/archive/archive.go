package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

// Store keeps verified raw webhook bodies in S3-compatible object storage.
type Store struct {
	client *minio.Client
	bucket string
}

func NewStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *Store) PutWebhook(ctx context.Context, provider entity.ProviderName, eventID string, receivedAt time.Time, body []byte) (string, error) {
	key := ObjectKey(provider, eventID, receivedAt)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"provider": string(provider),
			"event-id": eventID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey lays archived bodies out as {provider}/{yyyy}/{mm}/{dd}/{eventId}.json.
func ObjectKey(provider entity.ProviderName, eventID string, receivedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s.json", provider, receivedAt.UTC().Format("2006/01/02"), eventID)
}
