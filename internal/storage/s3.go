package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
)

// s3API is the part of the S3 client the backend uses
type s3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
	DeleteBucketTagging(ctx context.Context, params *s3.DeleteBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketTaggingOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Backend talks to Amazon S3 or any S3-compatible endpoint
type S3Backend struct {
	client   s3API
	endpoint string
	region   string
	tempDir  string
}

// NewS3Backend creates a client for the configured endpoint
func NewS3Backend(cfg Config) (*S3Backend, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	logrus.WithFields(logrus.Fields{
		"service":  cfg.Name,
		"endpoint": cfg.Endpoint,
		"region":   region,
	}).Info("S3 backend initialized")

	return newS3Backend(client, cfg.Endpoint, region), nil
}

func newS3Backend(client s3API, endpoint, region string) *S3Backend {
	return &S3Backend{
		client:   client,
		endpoint: endpoint,
		region:   region,
		tempDir:  os.TempDir(),
	}
}

// ListContainers lists the buckets visible to the credentials
func (b *S3Backend) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	out, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, translateS3Error(err, "Failed to list buckets")
	}

	result := make([]ContainerInfo, 0, len(out.Buckets))
	for _, bucket := range out.Buckets {
		result = append(result, ContainerInfo{
			Name:         aws.ToString(bucket.Name),
			LastModified: aws.ToTime(bucket.CreationDate),
		})
	}
	sortContainers(result)
	return result, nil
}

// ContainerExists issues a HeadBucket
func (b *S3Backend) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return true, nil
	}
	err = translateS3Error(err, "Failed to check bucket '%s'", name)
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetContainer returns bucket properties; metadata is read from bucket tags
func (b *S3Backend) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	exists, err := b.ContainerExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, NotFound("Container '%s' does not exist", name)
	}

	info := &ContainerInfo{Name: name}
	tags, err := b.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
	if err != nil {
		if !isS3Code(err, "NoSuchTagSet", "NoSuchTagSetError") {
			return nil, translateS3Error(err, "Failed to read tags of bucket '%s'", name)
		}
		return info, nil
	}
	if len(tags.TagSet) > 0 {
		info.Metadata = make(map[string]string, len(tags.TagSet))
		for _, tag := range tags.TagSet {
			info.Metadata[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
	}
	return info, nil
}

// CreateContainer creates a bucket in the configured region
func (b *S3Backend) CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error) {
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if b.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}

	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		return nil, ServiceError(err, "Failed to create container '%s'", name)
	}

	if len(metadata) > 0 {
		if err := b.UpdateContainer(ctx, name, metadata); err != nil {
			return nil, err
		}
	}

	return &ContainerInfo{Name: name, LastModified: time.Now().UTC(), Metadata: copyMetadata(metadata)}, nil
}

// UpdateContainer replaces the bucket tag set
func (b *S3Backend) UpdateContainer(ctx context.Context, name string, metadata map[string]string) error {
	if len(metadata) == 0 {
		_, err := b.client.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{Bucket: aws.String(name)})
		if err != nil {
			return translateS3Error(err, "Failed to clear tags of bucket '%s'", name)
		}
		return nil
	}

	tagSet := make([]types.Tag, 0, len(metadata))
	for k, v := range metadata {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := b.client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(name),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return translateS3Error(err, "Failed to tag bucket '%s'", name)
	}
	return nil
}

// DeleteContainer deletes a bucket, emptying it first when forced
func (b *S3Backend) DeleteContainer(ctx context.Context, name string, force bool) error {
	if force {
		if err := b.emptyBucket(ctx, name); err != nil {
			if IsNotFound(err) {
				return nil
			}
			return err
		}
	}

	_, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if isS3Code(err, "BucketNotEmpty") {
			return BadRequest("Container '%s' is not empty", name)
		}
		err = translateS3Error(err, "Failed to delete bucket '%s'", name)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func (b *S3Backend) emptyBucket(ctx context.Context, name string) error {
	blobs, err := b.ListBlobs(ctx, name, "", "")
	if err != nil {
		return err
	}

	for start := 0; start < len(blobs); start += 1000 {
		end := start + 1000
		if end > len(blobs) {
			end = len(blobs)
		}
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, blob := range blobs[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(blob.Name)})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(name),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return translateS3Error(err, "Failed to empty bucket '%s'", name)
		}
	}
	return nil
}

// BlobExists issues a HeadObject; failures are logged and reported as absent
func (b *S3Backend) BlobExists(ctx context.Context, container, key string) bool {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err == nil {
		return true
	}
	if !IsNotFound(translateS3Error(err, "")) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"endpoint":  b.endpoint,
			"container": container,
			"key":       key,
		}).Warn("Failed to check object existence")
	}
	return false
}

// PutBlob uploads an object. Readers that cannot seek are spooled to a
// temporary file first so the request can be signed.
func (b *S3Backend) PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	body, length, cleanup, err := b.seekableBody(data, size)
	if err != nil {
		return err
	}
	defer cleanup()

	if contentType == "" && !isMarkerKey(key) {
		contentType = DetectContentType(key)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(length),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	logrus.WithFields(logrus.Fields{
		"endpoint":  b.endpoint,
		"container": container,
		"key":       key,
		"size":      length,
	}).Debug("Uploading object to S3")

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return translateS3Error(err, "Failed to put '%s/%s'", container, key)
	}
	return nil
}

func (b *S3Backend) seekableBody(data io.Reader, size int64) (io.Reader, int64, func(), error) {
	if rs, ok := data.(io.ReadSeeker); ok && size >= 0 {
		return rs, size, func() {}, nil
	}

	tmp, err := os.CreateTemp(b.tempDir, "blobgate-s3-")
	if err != nil {
		return nil, 0, nil, ServiceError(err, "Failed to create spool file")
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, data)
	if err != nil {
		cleanup()
		return nil, 0, nil, ServiceError(err, "Failed to spool upload")
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, ServiceError(err, "Failed to rewind spool file")
	}
	return tmp, n, cleanup, nil
}

// CopyBlob performs a server-side copy
func (b *S3Backend) CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(container),
		Key:        aws.String(key),
		CopySource: aws.String(copySource(srcContainer, srcKey)),
	})
	if err != nil {
		return translateS3Error(err, "Failed to copy '%s/%s' to '%s/%s'", srcContainer, srcKey, container, key)
	}
	return nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, Delimiter)
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return bucket + "/" + strings.Join(segments, Delimiter)
}

// GetBlob downloads an object
func (b *S3Backend) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, translateS3Error(err, "Failed to get '%s/%s'", container, key)
	}

	info := &BlobInfo{
		Name:          key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		LastModified:  aws.ToTime(out.LastModified),
		ETag:          strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:      copyMetadata(out.Metadata),
	}
	return out.Body, info, nil
}

// GetBlobProperties issues a HeadObject
func (b *S3Backend) GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, translateS3Error(err, "Failed to read properties of '%s/%s'", container, key)
	}

	return &BlobInfo{
		Name:          key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		LastModified:  aws.ToTime(out.LastModified),
		ETag:          strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:      copyMetadata(out.Metadata),
	}, nil
}

// SetBlobMetadata copies the object onto itself with replaced metadata
func (b *S3Backend) SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error {
	props, err := b.GetBlobProperties(ctx, container, key)
	if err != nil {
		return err
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(container),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource(container, key)),
		Metadata:          copyMetadata(metadata),
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	if props.ContentType != "" {
		input.ContentType = aws.String(props.ContentType)
	}

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return translateS3Error(err, "Failed to update metadata of '%s/%s'", container, key)
	}
	return nil
}

// ListBlobs drains a ListObjectsV2 paginator
func (b *S3Backend) ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	result := make([]BlobInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateS3Error(err, "Failed to list '%s/%s'", container, prefix)
		}
		for _, obj := range page.Contents {
			result = append(result, BlobInfo{
				Name:          aws.ToString(obj.Key),
				ContentLength: aws.ToInt64(obj.Size),
				LastModified:  aws.ToTime(obj.LastModified),
				ETag:          strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
		for _, cp := range page.CommonPrefixes {
			result = append(result, BlobInfo{Name: aws.ToString(cp.Prefix), IsPrefix: true})
		}
	}

	sortBlobs(result)
	return result, nil
}

// DeleteBlob deletes an object; S3 already treats missing keys as success
func (b *S3Backend) DeleteBlob(ctx context.Context, container, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		err = translateS3Error(err, "Failed to delete '%s/%s'", container, key)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (b *S3Backend) Close() error {
	return nil
}

func isS3Code(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// translateS3Error maps SDK errors into the storage taxonomy
func translateS3Error(err error, format string, args ...interface{}) error {
	if isS3Code(err, "NotFound", "NoSuchBucket", "NoSuchKey") {
		e := NotFound(format, args...)
		e.Cause = err
		return e
	}
	if isS3Code(err, "InvalidBucketName", "InvalidArgument", "KeyTooLongError") {
		e := BadRequest(format, args...)
		e.Cause = err
		return e
	}
	return ServiceError(err, format, args...)
}
