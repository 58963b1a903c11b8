// Package s3 implements payload storage on Amazon S3 or S3-compatible
// object stores (MinIO, Localstack).
//
// Object keys mirror the metadata tree: "<dir>/<filename>" with an optional
// configured prefix, so the bucket remains human-inspectable and a payload
// tree can be reconstructed from the bucket alone.
package s3

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmartio/datamart/pkg/payload"
)

const (
	// defaultPartSize is the per-part buffer size for streaming uploads.
	defaultPartSize = 10 * 1024 * 1024

	// minPartSize is the S3 lower bound for every part except the last.
	minPartSize = 5 * 1024 * 1024
)

// Client is the subset of the S3 API the store uses. Satisfied by
// *s3.Client; narrowed so tests can substitute a fake.
type Client interface {
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3PayloadStore implements payload.Store on object storage.
//
// Concurrent writes to the same key are last-write-wins, which matches the
// best-effort consistency of the filesystem backend.
type S3PayloadStore struct {
	client    Client
	bucket    string
	keyPrefix string
	partSize  int
}

// S3PayloadStoreConfig configures the store.
type S3PayloadStoreConfig struct {
	// Client is a configured S3 client.
	Client Client

	// Bucket must already exist; the store does not create it.
	Bucket string

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// PartSize bounds the upload buffer; payloads larger than one part go
	// up as a multipart upload. Zero means the 10 MiB default; S3 rejects
	// parts under 5 MiB.
	PartSize int
}

// NewS3PayloadStore verifies bucket access and returns the store.
func NewS3PayloadStore(ctx context.Context, cfg S3PayloadStoreConfig) (*S3PayloadStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size %d is below the S3 minimum of %d", partSize, minPartSize)
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3PayloadStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
	}, nil
}

func (s *S3PayloadStore) key(dir, filename string) string {
	return path.Join(s.keyPrefix, dir, filename)
}

// Save uploads the stream, digesting while reading.
//
// PutObject needs a fully-known body, so the stream is read in part-sized
// chunks: a payload that fits in one part goes up with a single PutObject,
// anything larger switches to a multipart upload. At most one part buffer
// is resident in memory regardless of payload size.
func (s *S3PayloadStore) Save(ctx context.Context, dir, filename string, r io.Reader) (int64, string, error) {
	key := s.key(dir, filename)
	digest := sha1.New()
	body := io.TeeReader(r, digest)

	buf := make([]byte, s.partSize)
	n, err := readPart(body, buf)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read payload stream: %w", err)
	}

	if n < len(buf) {
		_, putErr := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(buf[:n]),
		})
		if putErr != nil {
			return 0, "", fmt.Errorf("failed to upload payload: %w", putErr)
		}
		return int64(n), "sha1:" + hex.EncodeToString(digest.Sum(nil)), nil
	}

	written, err := s.multipartUpload(ctx, key, body, buf, n)
	if err != nil {
		return 0, "", err
	}
	return written, "sha1:" + hex.EncodeToString(digest.Sum(nil)), nil
}

// readPart fills buf as far as the stream allows. A short read means the
// stream ended; only genuine read failures surface as errors.
func readPart(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

// multipartUpload streams the remainder of body to key, one part buffer at
// a time. The first part arrives already read in buf[:n]. Any failure
// aborts the upload so no orphaned parts accrue.
func (s *S3PayloadStore) multipartUpload(ctx context.Context, key string, body io.Reader, buf []byte, n int) (int64, error) {
	create, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin multipart upload: %w", err)
	}
	uploadID := create.UploadId

	abort := func() {
		abortCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
	}

	var (
		written   int64
		partNum   int32
		completed []types.CompletedPart
	)
	for n > 0 {
		partNum++
		part, upErr := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNum),
			Body:       bytes.NewReader(buf[:n]),
		})
		if upErr != nil {
			abort()
			return 0, fmt.Errorf("failed to upload part %d: %w", partNum, upErr)
		}
		completed = append(completed, types.CompletedPart{ETag: part.ETag, PartNumber: aws.Int32(partNum)})
		written += int64(n)

		if n < len(buf) {
			break
		}
		if n, err = readPart(body, buf); err != nil {
			abort()
			return 0, fmt.Errorf("failed to read payload stream: %w", err)
		}
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		abort()
		return 0, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return written, nil
}

// SaveJSON serializes v and uploads it.
func (s *S3PayloadStore) SaveJSON(ctx context.Context, dir, filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}
	_, _, err = s.Save(ctx, dir, filename, bytes.NewReader(data))
	return err
}

// Open streams the object body.
func (s *S3PayloadStore) Open(ctx context.Context, dir, filename string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(dir, filename)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("payload object not found: %s", s.key(dir, filename))
		}
		return nil, fmt.Errorf("failed to fetch payload: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object; deleting an absent key is a no-op in S3.
func (s *S3PayloadStore) Delete(ctx context.Context, dir, filename string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(dir, filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// DeleteStem removes every object in dir whose filename stem matches,
// metadata records excepted.
func (s *S3PayloadStore) DeleteStem(ctx context.Context, dir, stem string) ([]string, error) {
	names, err := s.stemMatches(ctx, dir, stem)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := s.Delete(ctx, dir, name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// RenameStem copies each matching object to its new key and deletes the
// original. S3 has no rename primitive, so this is copy-then-delete.
func (s *S3PayloadStore) RenameStem(ctx context.Context, dir, oldStem, newStem string) ([]string, error) {
	names, err := s.stemMatches(ctx, dir, oldStem)
	if err != nil {
		return nil, err
	}

	renamed := make([]string, 0, len(names))
	for _, name := range names {
		newName := payload.SwapStem(name, newStem)
		source := path.Join(s.bucket, s.key(dir, name))
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(source),
			Key:        aws.String(s.key(dir, newName)),
		})
		if err != nil {
			return renamed, fmt.Errorf("failed to copy payload %s: %w", name, err)
		}
		if err := s.Delete(ctx, dir, name); err != nil {
			return renamed, err
		}
		renamed = append(renamed, newName)
	}
	return renamed, nil
}

// List returns the filenames directly under dir.
func (s *S3PayloadStore) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.key(dir, "") + "/"
	prefix = strings.TrimSuffix(prefix, "//")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list payload objects: %w", err)
		}
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	return names, nil
}

// Close is a no-op; the S3 client has no resources to release.
func (s *S3PayloadStore) Close() error { return nil }

func (s *S3PayloadStore) stemMatches(ctx context.Context, dir, stem string) ([]string, error) {
	names, err := s.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, name := range names {
		if payload.Stem(name) == stem && !payload.IsMetaFilename(name) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}
