// Package media stores post images in S3 and serves them through CloudFront.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"dhoka/internal/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ErrForeignURL is returned for an image URL outside the configured CloudFront domain.
var ErrForeignURL = errors.New("media: url does not belong to the image domain")

// ErrUnsupportedType is returned for uploads that are not images.
var ErrUnsupportedType = errors.New("media: unsupported image type")

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// CloudFrontAPI is the subset of the CloudFront client used here.
type CloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Upload is one image file to store.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Config names the bucket and the CloudFront distribution in front of it.
type Config struct {
	Bucket         string
	Domain         string
	DistributionID string
}

// Service uploads and deletes post images.
type Service struct {
	s3    S3API
	cf    CloudFrontAPI
	cfg   Config
	newID func() string
}

// NewService creates a new image Service. cf may be nil when no distribution
// is configured, in which case deletes skip invalidation.
func NewService(s3c S3API, cf CloudFrontAPI, cfg Config) *Service {
	cfg.Domain = strings.TrimSuffix(strings.TrimPrefix(cfg.Domain, "https://"), "/")
	return &Service{
		s3:  s3c,
		cf:  cf,
		cfg: cfg,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

func (s *Service) urlFor(key string) string {
	return "https://" + s.cfg.Domain + "/" + key
}

// KeyFromURL maps a public image URL back to its object key.
func (s *Service) KeyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !strings.EqualFold(u.Host, s.cfg.Domain) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, raw)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, raw)
	}
	return key, nil
}

func extensionFor(f Upload) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(f.ContentType, ";")[0]))
	ext, ok := allowedTypes[ct]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, f.ContentType)
	}
	// Keep the client's extension when it agrees with the declared type.
	fileExt := strings.ToLower(path.Ext(f.Filename))
	if fileExt == ext || (ext == ".jpg" && fileExt == ".jpeg") {
		return fileExt, nil
	}
	return ext, nil
}

// UploadImages stores files under <postID>/ and returns their public URLs in
// order. If any upload fails, objects already written by this call are removed.
func (s *Service) UploadImages(ctx context.Context, postID string, files []Upload) ([]string, error) {
	urls := make([]string, 0, len(files))
	keys := make([]string, 0, len(files))

	for _, f := range files {
		ext, err := extensionFor(f)
		if err != nil {
			s.cleanup(ctx, keys)
			return nil, err
		}

		key := postID + "/" + s.newID() + ext
		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        f.Body,
			ContentType: aws.String(f.ContentType),
			ACL:         s3types.ObjectCannedACLPrivate,
		}
		if f.Size > 0 {
			input.ContentLength = aws.Int64(f.Size)
		}
		if _, err := s.s3.PutObject(ctx, input); err != nil {
			s.cleanup(ctx, keys)
			return nil, fmt.Errorf("upload %s: %w", f.Filename, err)
		}

		keys = append(keys, key)
		urls = append(urls, s.urlFor(key))
	}
	return urls, nil
}

func (s *Service) cleanup(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to remove partially uploaded images",
			slog.Int("count", len(keys)), slog.String("error", err.Error()))
	}
}

// DeleteImagesByURL removes the objects behind urls and invalidates their
// cached copies. Every URL must belong to the image domain.
func (s *Service) DeleteImagesByURL(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		key, err := s.KeyFromURL(u)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	if err := s.deleteKeys(ctx, keys); err != nil {
		return err
	}
	return s.invalidate(ctx, keys)
}

func (s *Service) deleteKeys(ctx context.Context, keys []string) error {
	objects := make([]s3types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, s3types.ObjectIdentifier{Key: aws.String(k)})
	}

	out, err := s.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.cfg.Bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("delete objects: %d failed, first %s: %s",
			len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, keys []string) error {
	if s.cf == nil || s.cfg.DistributionID == "" {
		return nil
	}

	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		paths = append(paths, "/"+k)
	}

	_, err := s.cf.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(s.cfg.DistributionID),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("invalidate cdn cache: %w", err)
	}
	return nil
}
