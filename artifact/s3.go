package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// PutObjectAPI is the part of the S3 client the mirror uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror copies run artifacts to s3://Bucket/Prefix/.
type S3Mirror struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Log    logrus.FieldLogger
}

// NewS3Mirror builds a mirror with the default AWS credential chain.
func NewS3Mirror(ctx context.Context, region, bucket, prefix string, log logrus.FieldLogger) (*S3Mirror, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load AWS config: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &S3Mirror{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix, Log: log}, nil
}

// Upload puts each file under Prefix keyed by its base name.
func (m *S3Mirror) Upload(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if err := m.put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *S3Mirror) put(ctx context.Context, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	key := path.Join(m.Prefix, filepath.Base(p))
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &m.Bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("artifact: upload %s to s3://%s/%s: %w", p, m.Bucket, key, err)
	}
	if m.Log != nil {
		m.Log.WithField("key", key).Debug("artifact mirrored")
	}
	return nil
}

// Sync uploads every regular file of dir modified at or after since.
func (m *S3Mirror) Sync(ctx context.Context, dir string, since time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(since) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return m.Upload(ctx, paths...)
}
