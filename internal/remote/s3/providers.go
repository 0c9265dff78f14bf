package s3

import (
	"fmt"
	"strings"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

// awsEndpoints maps regions to their regional S3 endpoints.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
}

// AWSConfig holds AWS S3 configuration.
type AWSConfig struct {
	BucketName string
	AccessKey  string
	SecretKey  string
	Region     string // Default: us-east-1
}

// NewAWSClient creates a client for AWS S3 using virtual-host style URLs
// (bucket.s3.<region>.amazonaws.com). Unknown regions derive the endpoint
// from the region name.
func NewAWSClient(config *AWSConfig) (*Client, error) {
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint, ok := awsEndpoints[region]
	if !ok {
		endpoint = fmt.Sprintf("s3.%s.amazonaws.com", region)
	}

	return NewClient(&Config{
		Endpoint:   "https://" + endpoint,
		BucketName: config.BucketName,
		AccessKey:  config.AccessKey,
		SecretKey:  config.SecretKey,
		Region:     region,
	})
}

// IsSupportedAWSRegion reports whether region has a known endpoint.
func IsSupportedAWSRegion(region string) bool {
	_, ok := awsEndpoints[region]
	return ok
}

// MinIOConfig holds MinIO configuration.
type MinIOConfig struct {
	Endpoint   string // "localhost:9000" or "https://minio.example.com"
	BucketName string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
}

// NewMinIOClient creates a client for MinIO. MinIO requires path-style URLs.
func NewMinIOClient(config *MinIOConfig) (*Client, error) {
	endpoint, err := ParseMinIOEndpoint(config.Endpoint, config.UseSSL)
	if err != nil {
		return nil, err
	}
	return NewClient(&Config{
		Endpoint:       endpoint,
		BucketName:     config.BucketName,
		AccessKey:      config.AccessKey,
		SecretKey:      config.SecretKey,
		Region:         "us-east-1", // MinIO ignores regions but signing needs one
		ForcePathStyle: true,
	})
}

// ParseMinIOEndpoint adds the scheme implied by useSSL when missing and trims trailing slashes.
func ParseMinIOEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "endpoint cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/"), nil
}

// R2Config holds Cloudflare R2 configuration.
type R2Config struct {
	AccountID  string
	BucketName string
	AccessKey  string
	SecretKey  string
}

// NewR2Client creates a client for Cloudflare R2 at <account>.r2.cloudflarestorage.com.
func NewR2Client(config *R2Config) (*Client, error) {
	if config.AccountID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "R2 account id is required")
	}
	return NewClient(&Config{
		Endpoint:       "https://" + config.AccountID + ".r2.cloudflarestorage.com",
		BucketName:     config.BucketName,
		AccessKey:      config.AccessKey,
		SecretKey:      config.SecretKey,
		Region:         "auto",
		ForcePathStyle: true,
	})
}

// IsValidR2AccountID reports whether id looks like a Cloudflare account id (32 hex chars).
func IsValidR2AccountID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
