// internal/services/storage_service.go
package services

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/models"
)

// StorageService turns stored media references into URLs clients can fetch.
// Uploading is handled elsewhere; an asset only carries the URL and storage
// path it was given.
type StorageService struct {
	s3Client *s3.S3
	config   config.AWSConfig
}

func NewStorageService(cfg config.AWSConfig) (*StorageService, error) {
	if cfg.AccessKeyID == "" {
		// Without credentials stored URLs are served as is
		return &StorageService{config: cfg}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   cfg,
	}, nil
}

// MediaURL returns a fetchable URL for ref: a CloudFront URL when one is
// configured, otherwise a presigned S3 URL, otherwise the stored URL.
func (s *StorageService) MediaURL(ref models.MediaRef) string {
	key := strings.TrimPrefix(ref.Path, "/")
	if key == "" {
		return ref.URL
	}

	if s.config.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimSuffix(s.config.CloudFrontURL, "/"), key)
	}

	if s.s3Client == nil {
		return ref.URL
	}

	url, err := s.GeneratePresignedURL(key)
	if err != nil {
		logrus.WithField("key", key).WithError(err).Warn("Failed to sign media URL")
		return ref.URL
	}
	return url
}

func (s *StorageService) GeneratePresignedURL(key string) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("S3 client not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(s.config.URLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return url, nil
}

// Present returns a copy of asset whose media URLs are ready to hand to a
// client. The stored record is left untouched.
func (s *StorageService) Present(asset models.Asset) models.Asset {
	asset.Audio.URL = s.MediaURL(asset.Audio)
	asset.Cover.URL = s.MediaURL(asset.Cover)
	return asset
}

func (s *StorageService) PresentAll(assets []models.Asset) []models.Asset {
	out := make([]models.Asset, len(assets))
	for i, asset := range assets {
		out[i] = s.Present(asset)
	}
	return out
}
