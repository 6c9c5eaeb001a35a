package fsbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/embcache/resource"
)

// S3 implements FileSystem on an S3 bucket. Paths map to object keys under
// an optional root prefix.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	ctrl       *resource.Controller
	compress   bool
}

// S3Option configures an S3 filesystem.
type S3Option func(*S3)

// WithS3Prefix prepends a root prefix to all object keys.
func WithS3Prefix(prefix string) S3Option {
	return func(s *S3) { s.prefix = prefix }
}

// WithS3Controller attaches a resource controller that throttles batch
// transfers.
func WithS3Controller(ctrl *resource.Controller) S3Option {
	return func(s *S3) { s.ctrl = ctrl }
}

// WithS3Compression stores batch-uploaded files zstd-compressed.
func WithS3Compression(enabled bool) S3Option {
	return func(s *S3) { s.compress = enabled }
}

// NewS3 creates an S3 filesystem over an existing client.
func NewS3(client *s3.Client, bucket string, optFns ...S3Option) *S3 {
	fs := &S3{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
	}

	for _, fn := range optFns {
		fn(fs)
	}

	return fs
}

// NewS3FromConfig creates an S3 filesystem using the ambient AWS
// configuration (environment, shared config files, instance role).
func NewS3FromConfig(ctx context.Context, bucket string, optFns ...S3Option) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: load aws config: %w", err)
	}

	return NewS3(s3.NewFromConfig(cfg), bucket, optFns...), nil
}

func (s *S3) key(p string) string {
	return path.Join(s.prefix, p)
}

func mapS3Err(p string, err error) error {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("fsbackend: %s: %w", p, ErrNotFound)
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("fsbackend: %s: %w", p, ErrNotFound)
	}
	return fmt.Errorf("fsbackend: %s: %w", p, err)
}

// Write stores data at path. With overwrite false an existing object is
// left untouched and ErrExists is returned.
func (s *S3) Write(ctx context.Context, p string, data []byte, overwrite bool) error {
	key := s.key(p)

	if !overwrite {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return fmt.Errorf("fsbackend: write %s: %w", p, ErrExists)
		}
		var nf *types.NotFound
		if !errors.As(err, &nf) {
			return mapS3Err(p, err)
		}
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("fsbackend: write %s: %w", p, err)
	}

	return nil
}

// Read reads len(p) bytes at offset off via a ranged GET. A short read at
// end of object returns the byte count with no error.
func (s *S3) Read(ctx context.Context, p string, buf []byte, off int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(buf))-1)

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, mapS3Err(p, err)
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("fsbackend: read %s: %w", p, err)
	}

	return n, nil
}

// ReadAll fetches the whole object at path using the parallel downloader.
func (s *S3) ReadAll(ctx context.Context, p string) ([]byte, error) {
	size, err := s.GetFileSize(ctx, p)
	if err != nil {
		return nil, err
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	_, err = s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, mapS3Err(p, err)
	}

	return buf.Bytes(), nil
}

// GetFileSize returns the object size via a HEAD request.
func (s *S3) GetFileSize(ctx context.Context, p string) (int64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return 0, mapS3Err(p, err)
	}

	return aws.ToInt64(head.ContentLength), nil
}

// Copy duplicates src to dst with a server-side copy.
func (s *S3) Copy(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(dst)),
		CopySource: aws.String(s.bucket + "/" + s.key(src)),
	})
	if err != nil {
		return mapS3Err(src, err)
	}

	return nil
}

// DeleteFile removes the object at path. With recursive set, path is
// treated as a prefix and every object under it is removed.
func (s *S3) DeleteFile(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(p)),
		})
		if err != nil {
			return mapS3Err(p, err)
		}
		return nil
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(p)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return mapS3Err(p, err)
		}
		for _, obj := range page.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return mapS3Err(aws.ToString(obj.Key), err)
			}
		}
	}

	return nil
}

// BatchUpload transfers every data file under localDir to the remoteDir
// prefix and writes a manifest. Returns the number of files transferred,
// manifest included.
func (s *S3) BatchUpload(ctx context.Context, localDir, remoteDir string) (int, error) {
	return uploadBatch(ctx, s, localDir, remoteDir, s.ctrl, s.compress)
}

// BatchFetch transfers every manifest-listed file under the remoteDir
// prefix to localDir. Returns the number of files transferred, manifest
// included.
func (s *S3) BatchFetch(ctx context.Context, remoteDir, localDir string) (int, error) {
	return fetchBatch(ctx, s, remoteDir, localDir, s.ctrl)
}
