package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures an S3Vault. Endpoint and static credentials are for
// S3-compatible stores; when empty the default AWS chain is used.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault stores snapshots as objects under
// <prefix>/snapshots/<hostID>/<name>.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

var _ Vault = (*S3Vault)(nil)

// NewS3Vault creates an S3 client from the default AWS configuration.
// No request is made until the vault is used.
func NewS3Vault(ctx context.Context, name string, opts S3Options) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Vault{
		name:     name,
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (v *S3Vault) Name() string { return v.name }

func (v *S3Vault) hostPrefix(hostID string) string {
	return path.Join(v.prefix, "snapshots", hostID) + "/"
}

func (v *S3Vault) key(hostID, name string) string {
	return v.hostPrefix(hostID) + name
}

func (v *S3Vault) PutSnapshot(ctx context.Context, hostID, name string, r io.Reader, size int64) error {
	if err := validName(hostID, name); err != nil {
		return err
	}

	counter := &countingReader{r: r}
	key := v.key(hostID, name)
	_, err := v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}

	if counter.n != size {
		v.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(v.bucket), Key: aws.String(key)})
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counter.n)
	}
	return nil
}

func (v *S3Vault) GetSnapshot(ctx context.Context, hostID, name string, w io.Writer) error {
	if err := validName(hostID, name); err != nil {
		return err
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(hostID, name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, hostID, name)
		}
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	return nil
}

func (v *S3Vault) ListSnapshots(ctx context.Context, hostID string) ([]Snapshot, error) {
	prefix := v.hostPrefix(hostID)
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})

	var snapshots []Snapshot
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			snapshots = append(snapshots, Snapshot{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })
	return snapshots, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	if _, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
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
