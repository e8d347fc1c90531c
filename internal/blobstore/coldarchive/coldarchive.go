// Package coldarchive mirrors blobs RetentionEngine is about to garbage
// collect to a durable off-box archive before the local copy disappears.
// It is a supplement to the core spec: a one-way "archive, then allow
// deletion" step rather than the bidirectional tiering the teacher's
// tiering controller implements.
package coldarchive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver pushes a blob to cold storage keyed by its encrypted hash, and
// can report whether a hash has already been archived.
type Archiver interface {
	Archive(ctx context.Context, hash string, size int64, r io.Reader) error
	Exists(ctx context.Context, hash string) (bool, error)
}

// S3Archiver implements Archiver against an S3-compatible bucket, the same
// role the teacher's tiering controller gives its cold tier, simplified
// from bidirectional migration to one-way archival.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures an S3Archiver.
type Config struct {
	Bucket string
	Prefix string
}

// NewS3Archiver builds an Archiver from an already-configured S3 client
// (see cmd/archivesyncd for how the client picks up credentials/region via
// aws-sdk-go-v2/config).
func NewS3Archiver(client *s3.Client, cfg Config) *S3Archiver {
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (a *S3Archiver) key(hash string) string {
	if a.prefix == "" {
		return hash
	}
	return a.prefix + "/" + hash
}

// Archive uploads the blob's ciphertext to S3 under its encrypted hash.
func (a *S3Archiver) Archive(ctx context.Context, hash string, size int64, r io.Reader) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.key(hash)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("coldarchive: uploading blob %s: %w", hash, err)
	}
	return nil
}

// Exists reports whether hash has already been archived. Any HeadObject
// failure (including a genuine 404) is treated as "not archived yet", so
// RetentionEngine simply retries the upload rather than needing to
// distinguish error causes here.
func (a *S3Archiver) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(hash)),
	})
	return err == nil, nil
}
