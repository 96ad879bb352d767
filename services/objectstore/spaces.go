// Package objectstore reads attachment objects from S3-compatible storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ErrObjectTooLarge is returned when an object exceeds the read limit
var ErrObjectTooLarge = errors.New("object exceeds size limit")

// SpacesClient reads objects from a DigitalOcean Spaces (or any S3) bucket
type SpacesClient struct {
	s3Client *s3.S3
	bucket   string
}

// SpacesConfig holds configuration for Spaces client
type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
	// ForcePathStyle addresses the bucket in the path instead of the host
	ForcePathStyle bool
}

// IsConfigured checks if all required fields are set
func (c SpacesConfig) IsConfigured() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.Bucket != "" && c.Endpoint != ""
}

// Object is a downloaded object
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// NewSpacesClient creates a new Spaces client
func NewSpacesClient(config SpacesConfig) (*SpacesClient, error) {
	if !config.IsConfigured() {
		return nil, fmt.Errorf("spaces configuration incomplete")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		),
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Spaces session: %w", err)
	}

	return &SpacesClient{
		s3Client: s3.New(sess),
		bucket:   config.Bucket,
	}, nil
}

// Download reads an object, failing when it is larger than maxBytes (0 = no limit)
func (s *SpacesClient) Download(ctx context.Context, key string, maxBytes int64) (*Object, error) {
	result, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", key, err)
	}
	defer result.Body.Close()

	if maxBytes > 0 && result.ContentLength != nil && *result.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, key, *result.ContentLength)
	}

	var body io.Reader = result.Body
	if maxBytes > 0 {
		body = io.LimitReader(result.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrObjectTooLarge, key)
	}

	contentType := aws.StringValue(result.ContentType)
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = ContentTypeFor(key)
	}

	return &Object{
		Key:         key,
		ContentType: contentType,
		Data:        data,
	}, nil
}

// ContentTypeFor returns the content type for a filename
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
