package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-rendition/pkg/rendition"
)

// ProviderName is the default name recorded on renditions stored in S3.
const ProviderName = "s3"

// Config options for the S3 backend
type Config struct {
	Name            string // Provider name recorded on renditions (default: "s3")
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	SessionToken    string // Optional session token
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)

	// PublicBaseURL is the public prefix objects are served from, e.g. a CDN
	// or "https://bucket.s3.us-east-1.amazonaws.com". Derived when empty.
	PublicBaseURL string

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Client is the subset of the S3 API the backend uses
type Client interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Backend is an S3-compatible implementation of the rendition.Provider interface
type Backend struct {
	client        Client
	uploader      *manager.Uploader
	name          string
	bucket        string
	publicBaseURL string
	config        Config
}

// New creates a new S3-compatible storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Options...)

	if config.CreateBucketIfNotExist {
		if err := createBucketIfNotExists(context.Background(), client, config); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return NewWithClient(config, client)
}

// NewWithClient creates a backend over an existing client
func NewWithClient(config Config, client Client) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if config.Name == "" {
		config.Name = ProviderName
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	return &Backend{
		client:        client,
		uploader:      manager.NewUploader(client),
		name:          config.Name,
		bucket:        config.Bucket,
		publicBaseURL: publicBaseURL(config),
		config:        config,
	}, nil
}

func publicBaseURL(config Config) string {
	if config.PublicBaseURL != "" {
		return strings.TrimSuffix(config.PublicBaseURL, "/")
	}
	if config.Endpoint != "" {
		return strings.TrimSuffix(config.Endpoint, "/") + "/" + config.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", config.Bucket, config.Region)
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func createBucketIfNotExists(ctx context.Context, client *s3.Client, config Config) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(config.Bucket),
	})
	if err == nil {
		return nil
	}

	// Handle multiple error types for MinIO compatibility
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(config.Bucket),
	}
	if config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(config.Region),
		}
	}

	_, err = client.CreateBucket(ctx, createInput)
	if err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// Name returns the provider name
func (b *Backend) Name() string {
	return b.name
}

// RequiresPolling is true: a fresh object may not be readable immediately
func (b *Backend) RequiresPolling() bool {
	return true
}

// ObjectKey maps a locator (public URL, endpoint URL or bare key) to the
// object key inside the bucket.
func (b *Backend) ObjectKey(locator string) (string, error) {
	if strings.HasPrefix(locator, b.publicBaseURL+"/") {
		key := unescapePath(strings.TrimPrefix(locator, b.publicBaseURL+"/"))
		if key == "" {
			return "", fmt.Errorf("locator %q has no object key", locator)
		}
		return key, nil
	}

	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid locator %q: %w", locator, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.IsAbs() && strings.HasPrefix(key, b.bucket+"/") && !strings.HasPrefix(u.Host, b.bucket+".") {
		key = strings.TrimPrefix(key, b.bucket+"/")
	}
	if key == "" {
		return "", fmt.Errorf("locator %q has no object key", locator)
	}
	return key, nil
}

// URLForKey returns the public URL of an object key.
func (b *Backend) URLForKey(key string) string {
	return b.publicBaseURL + "/" + key
}

func unescapePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

// Fetch downloads an object
func (b *Backend) Fetch(ctx context.Context, locator string) ([]byte, error) {
	key, err := b.ObjectKey(locator)
	if err != nil {
		return nil, rendition.NotFound(b.name, "fetch", locator)
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.classify("fetch", locator, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, rendition.Transient(b.name, "fetch", locator, err)
	}
	return data, nil
}

// Exists issues a HeadObject
func (b *Backend) Exists(ctx context.Context, locator string) (bool, error) {
	key, err := b.ObjectKey(locator)
	if err != nil {
		return false, nil
	}

	_, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFoundError(err) {
			return false, nil
		}
		return false, rendition.Transient(b.name, "exists", locator, err)
	}
	return true, nil
}

// Upload stores the bytes next to the source object
func (b *Backend) Upload(ctx context.Context, req rendition.UploadRequest) (*rendition.UploadResult, error) {
	if req.Name == "" {
		return nil, errors.New("upload name is required")
	}

	key := path.Base(req.Name)
	if req.SourceLocator != "" {
		if srcKey, err := b.ObjectKey(req.SourceLocator); err == nil {
			if dir := path.Dir(srcKey); dir != "." {
				key = path.Join(dir, key)
			}
		}
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Data),
		ContentType: aws.String(req.Mime),
	}

	// Add server-side encryption if enabled
	if b.config.EnableSSE {
		switch b.config.SSEAlgorithm {
		case "AES256":
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		case "aws:kms":
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.config.SSEKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
			}
		}
	}

	out, err := b.uploader.Upload(ctx, input)
	if err != nil {
		return nil, rendition.Transient(b.name, "upload", key, fmt.Errorf("failed to upload to S3: %w", err))
	}

	objectURL := b.URLForKey(key)
	metadata := map[string]any{
		"bucket":      b.bucket,
		"key":         key,
		"pathname":    key,
		"url":         objectURL,
		"contentType": req.Mime,
		"size":        len(req.Data),
	}
	if out != nil && out.ETag != nil {
		metadata["etag"] = strings.Trim(*out.ETag, "\"")
	}

	return &rendition.UploadResult{
		URL:              objectURL,
		ProviderMetadata: metadata,
	}, nil
}

// Delete removes an object. S3 deletes are idempotent, so a HeadObject
// first tells an absent object apart from a removed one.
//
// Without s3:ListBucket S3 answers HEAD on a missing key with 403 rather
// than 404. A 403 from the pre-check therefore does not abort: the delete is
// issued anyway and its own result decides.
func (b *Backend) Delete(ctx context.Context, locator string) error {
	key, err := b.ObjectKey(locator)
	if err != nil {
		return rendition.NotFound(b.name, "delete", locator)
	}

	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil && !IsForbiddenError(err) {
		return b.classify("delete", locator, err)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.classify("delete", locator, err)
	}

	return nil
}

func (b *Backend) classify(op, locator string, err error) error {
	if IsNotFoundError(err) {
		return rendition.NotFound(b.name, op, locator)
	}
	return rendition.Transient(b.name, op, locator, err)
}

// IsForbiddenError reports a 403 / AccessDenied response.
func IsForbiddenError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 403 {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Forbidden", "AccessDenied":
			return true
		}
	}
	return false
}

// IsNotFoundError infers absence from typed S3 errors, 404-class responses
// or "no such object" style messages.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == 404 {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "nosuchkey")
}
