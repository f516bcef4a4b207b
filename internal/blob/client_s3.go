package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
)

const (
	// Uploads at or above this size go multipart.
	multipartThreshold = 100 * humanize.MiByte

	// Size of each multipart part. Every part carries its own Content-MD5.
	multipartPartSize = 5 * humanize.MiByte
)

type BlobClient struct {
	s3Client *s3.Client
	config   *S3Config
}

// NewBlobClient builds a client for one bucket. Static credentials are used
// when configured, otherwise the SDK default chain (env, shared config,
// instance profile) applies.
func NewBlobClient(cfg *S3Config) (*BlobClient, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   100, // match expected upload concurrency
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		// No overall timeout. Large uploads legitimately run for a long
		// while; cancellation comes from the request context.
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return &BlobClient{
		s3Client: s3Client,
		config:   cfg,
	}, nil
}

// ===================================================================================================

// PutObject pushes one local file and returns the store-confirmed state.
// The store validates the transfer against Content-MD5 and rejects
// corrupted bodies, so a successful response means the bytes landed intact.
func (c *BlobClient) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if params.Size >= multipartThreshold {
		return c.putObjectMultipart(ctx, params)
	}

	file, err := os.Open(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", params.FilePath, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket:        &c.config.BucketName,
		Key:           &params.Key,
		Body:          file,
		ContentLength: aws.Int64(params.Size),
		Metadata:      params.Metadata,
	}
	if params.Checksum != "" {
		contentMD5, err := md5HexToBase64(params.Checksum)
		if err != nil {
			return nil, err
		}
		input.ContentMD5 = aws.String(contentMD5)
	}

	resp, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, err
	}

	etag := strings.ReplaceAll(aws.ToString(resp.ETag), "\"", "")
	confirmed := etag
	if !isMD5Hex(etag) {
		// Bucket-side encryption mangles the ETag; fall back to the
		// metadata echo.
		if confirmed, err = c.confirmChecksum(ctx, params.Key); err != nil {
			return nil, err
		}
	}

	// s3.PutObjectOutput does not carry LastModified
	return &PutObjectResponse{
		Key:          params.Key,
		Version:      aws.ToString(resp.VersionId),
		ETag:         etag,
		Checksum:     confirmed,
		Size:         params.Size,
		LastModified: time.Now().UTC(),
	}, nil
}

func (c *BlobClient) putObjectMultipart(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	file, err := os.Open(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", params.FilePath, err)
	}
	defer file.Close()

	create, err := c.s3Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   &c.config.BucketName,
		Key:      &params.Key,
		Metadata: params.Metadata,
	})
	if err != nil {
		return nil, err
	}
	uploadID := create.UploadId

	var completed []types.CompletedPart
	buf := make([]byte, multipartPartSize)
	for partNum := int32(1); ; partNum++ {
		n, readErr := io.ReadFull(file, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			c.abortMultipart(params.Key, uploadID)
			return nil, fmt.Errorf("read %q: %w", params.FilePath, readErr)
		}

		if n > 0 {
			sum := md5.Sum(buf[:n])
			part, err := c.s3Client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        &c.config.BucketName,
				Key:           &params.Key,
				UploadId:      uploadID,
				PartNumber:    aws.Int32(partNum),
				Body:          bytes.NewReader(buf[:n]),
				ContentLength: aws.Int64(int64(n)),
				ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum[:])),
			})
			if err != nil {
				c.abortMultipart(params.Key, uploadID)
				return nil, err
			}
			completed = append(completed, types.CompletedPart{
				ETag:       part.ETag,
				PartNumber: aws.Int32(partNum),
			})
		}

		// EOF or a short final read means the file is done.
		if readErr != nil {
			break
		}
	}

	resp, err := c.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   &c.config.BucketName,
		Key:      &params.Key,
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		c.abortMultipart(params.Key, uploadID)
		return nil, err
	}

	// A multipart ETag is not the content MD5. Each part was verified in
	// transit; the whole-file checksum comes from the metadata echo.
	confirmed, err := c.confirmChecksum(ctx, params.Key)
	if err != nil {
		return nil, err
	}

	return &PutObjectResponse{
		Key:          params.Key,
		Version:      aws.ToString(resp.VersionId),
		ETag:         strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Checksum:     confirmed,
		Size:         params.Size,
		LastModified: time.Now().UTC(),
	}, nil
}

func (c *BlobClient) abortMultipart(key string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := c.s3Client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   &c.config.BucketName,
		Key:      &key,
		UploadId: uploadID,
	})
	if err != nil {
		slog.Warn("abort multipart upload", "key", key, "error", err)
	}
}

// confirmChecksum asks the store what it holds for key. Uploads write the
// content MD5 into metadata, which survives the multipart ETag format.
func (c *BlobClient) confirmChecksum(ctx context.Context, key string) (string, error) {
	head, err := c.HeadObject(ctx, key)
	if err != nil {
		return "", fmt.Errorf("confirm upload %q: %w", key, err)
	}
	if sum := head.Metadata[MetaChecksum]; sum != "" {
		return sum, nil
	}
	if isMD5Hex(head.ETag) {
		return head.ETag, nil
	}
	return "", fmt.Errorf("confirm upload %q: no content checksum available", key)
}

// ===================================================================================================

func (c *BlobClient) HeadObject(ctx context.Context, key string) (*HeadObjectResponse, error) {
	resp, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &c.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}

	return &HeadObjectResponse{
		Key:          key,
		ETag:         strings.ReplaceAll(aws.ToString(resp.ETag), "\"", ""),
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
		Metadata:     resp.Metadata,
	}, nil
}

// ===================================================================================================

func (c *BlobClient) DeleteObject(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ===================================================================================================

func (c *BlobClient) ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: &c.config.BucketName,
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []*ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			objects = append(objects, &ObjectInfo{
				Key:          aws.ToString(obj.Key),
				ETag:         strings.ReplaceAll(aws.ToString(obj.ETag), "\"", ""),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified.Format(time.RFC3339),
			})
		}
	}

	return objects, nil
}

// check if BlobClient implements IBlobClient interface
var _ IBlobClient = (*BlobClient)(nil)
