package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

const (
	s3DigestTag     = "digest"
	s3DigestTypeTag = "digest-type"
)

// s3Store implements a blob store on Amazon S3 or compatible services.
// Uploads stream through s3manager so objects of unknown size never need to
// be buffered whole; the digest is attached afterwards as object tags.
type s3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
	prefix     string
	log        *slog.Logger
}

// S3Options configures an S3 offer.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PathStyle is required by most S3-compatible services (MinIO, Ceph).
	PathStyle bool
}

// NewS3Offer creates a new S3 offer.
// If AccessKey and SecretKey are empty the default AWS credential chain is used.
func NewS3Offer(id string, opts S3Options, log *slog.Logger) (*Offer, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", opts.Bucket, opts.Prefix, opts.Region)
	if opts.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", opts.Endpoint)
	}

	cfg := aws.Config{
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(opts.PathStyle),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	} else {
		log.Debug("No S3 credentials in offer URI, using the default credential chain", slog.String("offer", id))
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := s3.New(sess)

	store := &s3Store{
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		bucketName: opts.Bucket,
		prefix:     strings.Trim(opts.Prefix, "/"),
		log:        log,
	}
	return newOffer(id, uri, store, newMemoryJournal(), log), nil
}

func (s *s3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// s3Err maps S3 "missing" responses to ErrObjectNotFound and transport
// failures to ErrBackendUnavailable.
func s3Err(op string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return interfaces.ErrObjectNotFound
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return interfaces.ErrObjectNotFound
		case s3.ErrCodeNoSuchBucket:
			return fmt.Errorf("%w: %s: %v", interfaces.ErrInconsistentState, op, err)
		case request.CanceledErrorCode:
			return fmt.Errorf("%s: %w", op, context.Canceled)
		}
	}
	return fmt.Errorf("%w: %s: %v", interfaces.ErrBackendUnavailable, op, err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *s3Store) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	start := time.Now()
	counter := &countingReader{r: body}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
		Body:   counter,
	})
	if err != nil {
		s.log.Error("Failed to upload object to S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return counter.n, s3Err("upload", err)
	}
	return counter.n, nil
}

func (s *s3Store) setDigest(ctx context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	_, err := s.client.PutObjectTaggingWithContext(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
		Tagging: &s3.Tagging{TagSet: []*s3.Tag{
			{Key: aws.String(s3DigestTag), Value: aws.String(digest)},
			{Key: aws.String(s3DigestTypeTag), Value: aws.String(string(dt))},
		}},
	})
	if err != nil {
		return s3Err("tag", err)
	}
	return nil
}

func (s *s3Store) get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, 0, s3Err("get", err)
	}
	return result.Body, aws.Int64Value(result.ContentLength), nil
}

func (s *s3Store) stat(ctx context.Context, key string) (*blobInfo, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s3Err("head", err)
	}
	info := &blobInfo{
		Key:          key,
		Size:         aws.Int64Value(head.ContentLength),
		LastModified: aws.TimeValue(head.LastModified),
	}

	tags, err := s.client.GetObjectTaggingWithContext(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		s.log.Warn("Failed to read object tags", slog.String("key", key), "err", err)
		return info, nil
	}
	for _, tag := range tags.TagSet {
		switch aws.StringValue(tag.Key) {
		case s3DigestTag:
			info.Digest = aws.StringValue(tag.Value)
		case s3DigestTypeTag:
			info.DigestType = cryptoutils.DigestType(aws.StringValue(tag.Value))
		}
	}
	return info, nil
}

// remove heads the object first: S3 deletes are idempotent and would
// otherwise hide an already-absent object.
func (s *s3Store) remove(ctx context.Context, key string) error {
	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	}); err != nil {
		return s3Err("head", err)
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s3Err("delete", err)
	}
	return nil
}

func (s *s3Store) list(ctx context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	prefix := s.objectKey(container) + "/"
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucketName),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int64(int64(limit)),
	}
	if cursor != "" {
		input.StartAfter = aws.String(prefix + cursor)
	}
	out, err := s.client.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		return nil, "", s3Err("list", err)
	}

	infos := make([]blobInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
		infos = append(infos, blobInfo{
			Key:          container + "/" + name,
			Size:         aws.Int64Value(obj.Size),
			LastModified: aws.TimeValue(obj.LastModified),
		})
	}
	next := ""
	if aws.BoolValue(out.IsTruncated) && len(infos) > 0 {
		next = strings.TrimPrefix(infos[len(infos)-1].Key, container+"/")
	}
	return infos, next, nil
}

func (s *s3Store) capacity(ctx context.Context) (*interfaces.Capacity, error) {
	if _, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)}); err != nil {
		return nil, s3Err("head bucket", err)
	}
	return &interfaces.Capacity{UsableSpace: UnboundedCapacity, UsedSpace: -1}, nil
}

func (s *s3Store) close() error {
	return nil
}
