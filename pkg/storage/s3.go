package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
)

const (
	imagePrefix = "images/"
	thumbPrefix = "thumbs/"
	deleteBatch = 1000
)

// S3Client is the subset of the S3 API the store uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Image describes a stored image.
type Image struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ThumbURL    string `json:"thumb_url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Images stores generated images. It is safe for concurrent use.
type Images struct {
	client        S3Client
	bucket        string
	baseURL       string
	uploadTimeout time.Duration
	thumbSize     int
	log           *slog.Logger
}

type Option func(*options)

type options struct {
	client     S3Client
	httpClient *http.Client
	log        *slog.Logger
}

// WithClient injects a preconfigured client, typically a fake in tests.
func WithClient(c S3Client) Option {
	return func(o *options) { o.client = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func New(ctx context.Context, cfg Config, opts ...Option) (*Images, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}
	o := &options{log: logger.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOpts = append(awsOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
		}
		if o.httpClient != nil {
			awsOpts = append(awsOpts, config.WithHTTPClient(o.httpClient))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, errors.Join(ErrLoadConfig, err)
		}
		client = s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Endpoint != "" {
			baseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	thumb := cfg.ThumbnailSize
	if thumb <= 0 {
		thumb = 256
	}
	return &Images{
		client:        client,
		bucket:        cfg.Bucket,
		baseURL:       strings.TrimSuffix(baseURL, "/") + "/",
		uploadTimeout: cfg.UploadTimeout,
		thumbSize:     thumb,
		log:           o.log.With(logger.Component("storage")),
	}, nil
}

// URL is the public URL of key.
func (s *Images) URL(key string) string {
	return s.baseURL + strings.TrimPrefix(key, "/")
}

// Put decodes data, stores it and its thumbnail under the user's prefix.
func (s *Images) Put(ctx context.Context, userID string, data []byte) (Image, error) {
	if userID == "" {
		return Image{}, ErrEmptyUserID
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}

	ext, contentType, err := detect(data)
	if err != nil {
		return Image{}, err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, errors.Join(ErrUnsupportedImage, err)
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	key := imagePrefix + userID + "/" + id + ext
	if err := s.put(ctx, key, contentType, data); err != nil {
		return Image{}, err
	}

	thumbKey := thumbPrefix + userID + "/" + id + ".jpg"
	thumbURL := ""
	if thumb, err := s.thumbnail(img); err != nil {
		s.log.WarnContext(ctx, "thumbnail encoding failed", logger.UserID(userID), logger.Error(err))
	} else if err := s.put(ctx, thumbKey, "image/jpeg", thumb); err != nil {
		s.log.WarnContext(ctx, "thumbnail upload failed", logger.UserID(userID), logger.Error(err))
	} else {
		thumbURL = s.URL(thumbKey)
	}

	b := img.Bounds()
	return Image{
		ID:          id,
		Key:         key,
		URL:         s.URL(key),
		ThumbURL:    thumbURL,
		ContentType: contentType,
		Size:        int64(len(data)),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

// Exists reports whether key is stored.
func (s *Images) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if err = classify(err, "head"); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// DeleteUser removes every image and thumbnail of the user and returns the
// number of objects deleted.
func (s *Images) DeleteUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}
	var keys []types.ObjectIdentifier
	for _, prefix := range []string{imagePrefix, thumbPrefix} {
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix + userID + "/"),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return 0, classify(err, "list")
			}
			for _, obj := range page.Contents {
				keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
			}
		}
	}

	for i := 0; i < len(keys); i += deleteBatch {
		end := min(i+deleteBatch, len(keys))
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: keys[i:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return i, classify(err, "delete")
		}
	}
	return len(keys), nil
}

func (s *Images) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	return classify(err, "upload")
}

func (s *Images) thumbnail(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	thumb := imaging.Fit(img, s.thumbSize, s.thumbSize, imaging.Lanczos)
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func detect(data []byte) (ext, contentType string, err error) {
	switch ct := http.DetectContentType(data); ct {
	case "image/png":
		return ".png", ct, nil
	case "image/jpeg":
		return ".jpg", ct, nil
	case "image/gif":
		return ".gif", ct, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedImage, ct)
	}
}

func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied":
			return fmt.Errorf("%w: %s: %w", ErrAccessDenied, op, err)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: %s: %w", ErrServiceUnavailable, op, err)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, op, err)
		}
	}
	return fmt.Errorf("storage: %s failed: %w", op, err)
}
