package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// S3Config holds the connection settings for an S3-compatible target
// (AWS, MinIO or similar).
type S3Config struct {
	Region       string
	BaseEndpoint string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
}

// S3Store keeps each item as one object under Prefix. Revisions are the
// ETags the service assigns; conditional writes use If-Match and
// If-None-Match so concurrent writers cannot silently overwrite each other.
//
// It is a snapshot store, like FilesystemStore.
type S3Store struct {
	client s3API
	cfg    S3Config
}

// s3API is the slice of the SDK client the store uses, split out so tests
// can substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.BaseEndpoint != ""
	})

	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) Check(ctx context.Context) error {
	key := s.objectKey(InfoFileName)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			info, err := json.Marshal(Info{SchemaVersion: SchemaVersion})
			if err != nil {
				return err
			}
			_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    aws.String(key),
				Body:   bytes.NewReader(info),
			})
			return err
		}
		return fmt.Errorf("reading %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	if info.SchemaVersion != SchemaVersion {
		return fmt.Errorf("target schema %d, client speaks %d: %w",
			info.SchemaVersion, SchemaVersion, common.ErrIncompatibleRemote)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, cursor string) (*Page, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.itemPrefix()),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("listing bucket %s: %w", s.cfg.Bucket, err)
	}

	page := &Page{Snapshot: true}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		id := strings.TrimPrefix(key, s.itemPrefix())
		if id == InfoFileName || !strings.HasSuffix(id, itemFileExt) {
			continue
		}
		info := ItemInfo{
			ID:       strings.TrimSuffix(id, itemFileExt),
			Revision: normalizeETag(aws.ToString(obj.ETag)),
		}
		if obj.LastModified != nil {
			info.UpdatedTime = obj.LastModified.UnixMilli()
		}
		page.Items = append(page.Items, info)
	}

	if aws.ToBool(out.IsTruncated) {
		page.HasMore = true
		page.Cursor = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *S3Store) Get(ctx context.Context, id string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(id + itemFileExt)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", fmt.Errorf("item %s: %w", id, common.ErrNotFound)
		}
		return nil, "", fmt.Errorf("getting item %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading item %s: %w", id, err)
	}
	return data, normalizeETag(aws.ToString(out.ETag)), nil
}

func (s *S3Store) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(id + itemFileExt)),
		Body:   bytes.NewReader(blob),
	}
	if ifRevision == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifRevision)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
		}
		return "", fmt.Errorf("putting item %s: %w", id, err)
	}
	return normalizeETag(aws.ToString(out.ETag)), nil
}

func (s *S3Store) Delete(ctx context.Context, id string, ifRevision string) error {
	in := &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(id + itemFileExt)),
	}
	if ifRevision != "" {
		in.IfMatch = aws.String(ifRevision)
	}

	if _, err := s.client.DeleteObject(ctx, in); err != nil {
		if isNotFound(err) {
			return nil
		}
		if isPreconditionFailed(err) {
			return fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
		}
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	return nil
}

func (s *S3Store) itemPrefix() string {
	if s.cfg.Prefix == "" {
		return ""
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/"
}

func (s *S3Store) objectKey(name string) string {
	return s.itemPrefix() + name
}

// normalizeETag strips the quotes S3 wraps around ETag values.
func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

func isPreconditionFailed(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
