package clients

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/reelforge/reel-worker/log"
)

// ObjectStoreOptions are the tunables accepted as query parameters on the
// object store URL, e.g. s3://key:secret@endpoint/bucket?region=eu-west-1.
type ObjectStoreOptions struct {
	Region         string `mapstructure:"region"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// ObjectStoreConfig is a parsed object store URL.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Options   ObjectStoreOptions
}

// ParseObjectStoreURL understands s3://accessKey:secretKey@endpoint/bucket
// with options in the query string.
func ParseObjectStoreURL(raw string) (ObjectStoreConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ObjectStoreConfig{}, fmt.Errorf("invalid object store url: %w", err)
	}
	if u.Scheme != "s3" && u.Scheme != "s3+https" && u.Scheme != "s3+http" {
		return ObjectStoreConfig{}, fmt.Errorf("unsupported object store scheme %q", u.Scheme)
	}
	if u.User == nil {
		return ObjectStoreConfig{}, fmt.Errorf("object store url is missing credentials")
	}
	secret, _ := u.User.Password()
	bucket := strings.Trim(u.Path, "/")
	if bucket == "" {
		return ObjectStoreConfig{}, fmt.Errorf("object store url is missing a bucket")
	}

	cfg := ObjectStoreConfig{
		Endpoint:  u.Host,
		AccessKey: u.User.Username(),
		SecretKey: secret,
		Bucket:    bucket,
	}
	if u.Scheme == "s3+http" {
		cfg.Endpoint = "http://" + cfg.Endpoint
	} else {
		cfg.Endpoint = "https://" + cfg.Endpoint
	}

	query := map[string]string{}
	for k, v := range u.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg.Options,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ObjectStoreConfig{}, err
	}
	if err := decoder.Decode(query); err != nil {
		return ObjectStoreConfig{}, fmt.Errorf("invalid object store options: %w", err)
	}
	if cfg.Options.Region == "" {
		cfg.Options.Region = "us-east-1"
	}
	return cfg, nil
}

// S3Store uploads final videos and generated images and hands back the public
// URL the rest of the system records.
type S3Store struct {
	cfg      ObjectStoreConfig
	uploader *s3manager.Uploader
}

func NewS3Store(rawURL string) (*S3Store, error) {
	cfg, err := ParseObjectStoreURL(rawURL)
	if err != nil {
		return nil, err
	}
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Options.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(cfg.Options.ForcePathStyle),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}
	return &S3Store{
		cfg:      cfg,
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// VideoKey places final renders under a per-task prefix.
func VideoKey(taskID, filename string) string {
	return path.Join("videos", taskID, filename)
}

// GeneratedImageKey names uploaded intermediate images. Some video providers
// only accept reference images by URL, so generated frames pass through the
// store on their way to those APIs.
func GeneratedImageKey(taskID string) string {
	return path.Join("generated_images", taskID, uuid.New().String()+".png")
}

// Upload pushes a local file to the bucket under key and returns its public
// URL. Transient failures are retried.
func (s *S3Store) Upload(ctx context.Context, taskID, localPath, key, contentType string) (string, error) {
	var publicURL string
	err := backoff.Retry(func() error {
		file, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("cannot open %s for upload: %w", localPath, err))
		}
		defer file.Close()

		_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        file,
			ContentType: aws.String(contentType),
		})
		if err != nil {
			log.Log(taskID, "upload attempt failed", "key", key, "err", err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx))
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	publicURL = s.PublicURL(key)
	log.Log(taskID, "uploaded artifact", "key", key, "url", log.RedactURL(publicURL))
	return publicURL, nil
}

// PublicURL maps a bucket key to the externally reachable URL.
func (s *S3Store) PublicURL(key string) string {
	if base := s.cfg.Options.PublicBaseURL; base != "" {
		return strings.TrimRight(base, "/") + "/" + key
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, key)
}
