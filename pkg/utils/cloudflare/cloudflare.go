package cloudflare

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"metalcalc_backend/pkg/config"
)

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReportArchive keeps a copy of every generated report in an R2 bucket.
type ReportArchive struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

type ArchivedReport struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

// NewReportArchive returns nil when no bucket is configured.
func NewReportArchive(ctx context.Context, cfg config.StorageConfig) (*ReportArchive, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
		o.Region = "auto"
	})

	return newReportArchive(client, cfg.Bucket), nil
}

func newReportArchive(client ObjectPutter, bucket string) *ReportArchive {
	return &ReportArchive{client: client, bucket: bucket, now: time.Now}
}

// Put stores a PDF under reports/<uid>/<yyyy>/<mm>/<unique>-<name>.
func (a *ReportArchive) Put(ctx context.Context, uid, fileName string, body []byte) (ArchivedReport, error) {
	now := a.now().UTC()
	id := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())

	ext := path.Ext(fileName)
	base := slug.Make(fileName[:len(fileName)-len(ext)])
	key := path.Join("reports", slug.Make(uid), now.Format("2006"), now.Format("01"), id+"-"+base+ext)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/pdf"),
		Metadata:    map[string]string{"uid": uid},
	})
	if err != nil {
		return ArchivedReport{}, fmt.Errorf("could not upload report to R2: %v", err)
	}

	return ArchivedReport{Key: key, ID: id}, nil
}
