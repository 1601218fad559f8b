package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brademus/investorkonnect-sub002/internal/config"
)

// ISignedDocStorage archives fully-signed agreement documents and serves
// them back through short-lived presigned URLs.
type ISignedDocStorage interface {
	// ArchiveSignedDocument stores the completed PDF and returns its key.
	ArchiveSignedDocument(ctx context.Context, dealID, agreementID string, pdf []byte) (string, error)
	// GeneratePresignedGetURL returns a time-limited download URL for an
	// archived document.
	GeneratePresignedGetURL(ctx context.Context, key string) (string, error)
}

// signedDocStorage implements ISignedDocStorage over S3.
type signedDocStorage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewSignedDocStorage creates the S3-backed archive.
func NewSignedDocStorage(cfg *config.Config) (ISignedDocStorage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return &signedDocStorage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

func (s *signedDocStorage) ArchiveSignedDocument(ctx context.Context, dealID, agreementID string, pdf []byte) (string, error) {
	// One stable key per agreement: archiving is idempotent and a re-run
	// overwrites with identical content.
	key := fmt.Sprintf("agreements/%s/%s.pdf", dealID, agreementID)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pdf),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive signed document %s: %w", key, err)
	}
	return key, nil
}

func (s *signedDocStorage) GeneratePresignedGetURL(ctx context.Context, key string) (string, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned GET URL for key %s: %w", key, err)
	}
	return req.URL, nil
}
