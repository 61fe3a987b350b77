package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3Config holds bucket settings
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

// S3Store stores prescriptions in an S3 compatible bucket
type S3Store struct {
	uploader *manager.Uploader
	cfg      S3Config
	logger   *logrus.Logger
}

// NewS3Store creates an S3 client and uploader
func NewS3Store(ctx context.Context, cfg S3Config, logger *logrus.Logger) (*S3Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Store{
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Store uploads the document under a generated key and returns its URL
func (s *S3Store) Store(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := PrescriptionKey(name)
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"bucket": s.cfg.Bucket,
			"key":    key,
		}).Error("Failed to upload prescription")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key, nil
	}
	return out.Location, nil
}
