package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	inthttp "github.com/ZazaJr24/CSF-Downloader/internal/http"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// S3Source reads depot objects from an S3 (or S3-compatible) bucket.
type S3Source struct {
	mirror
	client *s3.Client
	bucket string
}

// NewS3Source creates a source for the bucket in cfg. Static keys are
// used when configured, otherwise the default AWS credential chain. A
// custom endpoint switches to path-style addressing.
func NewS3Source(ctx context.Context, cfg config.S3Config, httpClient *nethttp.Client, keys KeyResolver, logger *logging.Logger) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, config.ErrMissingBucket
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	src := &S3Source{client: client, bucket: cfg.Bucket}
	src.mirror = mirror{
		prefix: cfg.Prefix,
		get:    src.getObject,
		keys:   keys,
		retry:  inthttp.DefaultConfig(),
		logger: logging.OrNop(logger),
	}
	return src, nil
}

func (s *S3Source) getObject(ctx context.Context, key string) ([]byte, error) {
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		ne := &NetworkError{Op: "s3 get", URL: url, Err: err}
		var re *awshttp.ResponseError
		if errors.As(err, &re) {
			ne.StatusCode = re.HTTPStatusCode()
		}
		return nil, ne
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &NetworkError{Op: "s3 get", URL: url, Err: err}
	}
	return data, nil
}
