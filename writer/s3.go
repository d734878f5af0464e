package writer

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "exchangecatalog/config"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/logger"
)

// S3Uploader puts exported files into a bucket.
type S3Uploader struct {
	config   appconfig.S3Config
	client   *s3.Client
	version  string
	log      *logger.Log
	uploads  atomic.Int64
	bytes    atomic.Int64
	failures atomic.Int64
}

// NewS3Uploader loads the AWS configuration. Static keys from cfg take
// precedence over the default credential chain.
func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config, version string) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Debug("s3 uploader initialized")

	return &S3Uploader{config: cfg, client: client, version: version, log: log}, nil
}

// Upload writes data to key. The upload is not cancelled with ctx once it
// has started so a shutdown does not leave a partial export.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, compression string) error {
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"operation": "upload_to_s3",
		"s3_key":    key,
		"data_size": len(data),
	})

	start := time.Now()
	_, err := u.client.PutObject(context.WithoutCancel(ctx), &s3.PutObjectInput{
		Bucket:      aws.String(u.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.apache.parquet"),
		Metadata: map[string]string{
			"compression":             compression,
			"exchangecatalog-version": u.version,
		},
	})
	if err != nil {
		u.failures.Add(1)
		log.WithError(err).Error("failed to upload to S3")
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", u.config.Bucket, err)
	}

	u.uploads.Add(1)
	u.bytes.Add(int64(len(data)))
	logger.LogPerformanceEntry(log, "s3_uploader", "put_object", time.Since(start), nil)
	return nil
}

// URI returns the s3:// location of key.
func (u *S3Uploader) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", u.config.Bucket, key)
}

func (u *S3Uploader) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: u.uploads.Load(),
		BytesWritten:   u.bytes.Load(),
		ErrorsCount:    u.failures.Load(),
	}
}

func (u *S3Uploader) Report() {
	metrics.ReportWriter(u.log, "s3_uploader", u.Stats())
}
