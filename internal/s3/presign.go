// Package s3 issues presigned upload URLs for job images.
package s3

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Service provides helpers to generate presigned S3 URLs.
type Service struct {
	Client *minio.Client
	Bucket string
	// MaxTTL limits the lifetime of generated URLs.
	MaxTTL time.Duration
}

// New connects a minio client to endpoint. No request is made until a URL
// is signed.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, maxTTL time.Duration) (*Service, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return &Service{Client: mc, Bucket: bucket, MaxTTL: maxTTL}, nil
}

// Upload is a presigned PUT for one job image. ImageURL is the address to
// record on the job once the client has uploaded.
type Upload struct {
	UploadURL string    `json:"upload_url"`
	ImageURL  string    `json:"image_url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey places an image under jobs/<jobRef>/ with a random prefix so
// repeated filenames never collide.
func ObjectKey(jobRef, filename string) string {
	name := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(filename, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "image"
	}
	return "jobs/" + unsafeChars.ReplaceAllString(jobRef, "_") + "/" + uuid.New().String() + "-" + name
}

// PresignPut creates a short-lived URL for uploading an object.
func (s Service) PresignPut(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > s.MaxTTL {
		return "", fmt.Errorf("invalid ttl")
	}
	u, err := s.Client.PresignedPutObject(ctx, s.Bucket, objectKey, ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ImageUpload presigns an upload for a new image of jobRef.
func (s Service) ImageUpload(ctx context.Context, jobRef, filename string, ttl time.Duration, now time.Time) (Upload, error) {
	key := ObjectKey(jobRef, filename)
	put, err := s.PresignPut(ctx, key, ttl)
	if err != nil {
		return Upload{}, err
	}
	base := *s.Client.EndpointURL()
	base.Path = "/" + s.Bucket + "/" + key
	return Upload{UploadURL: put, ImageURL: base.String(), ObjectKey: key, ExpiresAt: now.Add(ttl)}, nil
}
