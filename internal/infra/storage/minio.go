package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
)

// Options untuk koneksi MinIO
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store archives raw scan reports in an S3 compatible bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New buat koneksi MinIO dan pastikan bucket ada
func New(ctx context.Context, o Options) (*Store, error) {
	cli, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
		Region: o.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, o.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{Region: o.Region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: o.Bucket, region: o.Region}, nil
}

// ReportKey is the object key for one report of an analysis.
func ReportKey(id domain.AnalysisID, kind string) string {
	kind = strings.Trim(strings.ReplaceAll(kind, "/", "-"), ". ")
	if kind == "" {
		kind = "report"
	}
	return path.Join("analyses", string(id), kind+".json")
}

// PutReport implementasi domain.ReportArchive. Returns the object URL.
func (s *Store) PutReport(ctx context.Context, id domain.AnalysisID, kind string, body []byte) (string, error) {
	key := ReportKey(id, kind)
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	// URL publik (jika bucket public), kalau private harus generate presigned URL
	return s.client.EndpointURL().String() + "/" + s.bucketName + "/" + key, nil
}

// Check reports whether the bucket is reachable, for the health endpoint.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}

var _ domain.ReportArchive = (*Store)(nil)
