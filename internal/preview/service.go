// Package preview stores rendered-editor screenshots in object storage and
// hands back addressable URLs for template listings.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the preview bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check preview bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create preview bucket: %w", err)
		}
		log.Printf("preview: created bucket %s", bucket)
	}

	return &Service{client: client, bucket: bucket}, nil
}

// Put stores one PNG under the document identity and returns a presigned
// URL valid long enough for a listing page to render it.
func (s *Service) Put(ctx context.Context, documentID string, png []byte) (string, error) {
	key := fmt.Sprintf("%s/%d.png", documentID, time.Now().UnixMilli())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(png), int64(len(png)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("store preview %s: %w", key, err)
	}

	url, err := s.client.PresignedGetObject(ctx, s.bucket, key, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign preview %s: %w", key, err)
	}
	return url.String(), nil
}
