package blob

import (
	"context"
	"time"
)

type IBlobClient interface {
	PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error)
	HeadObject(ctx context.Context, key string) (*HeadObjectResponse, error)
	DeleteObject(ctx context.Context, key string) (bool, error)
	ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error)
}

// ===================================================================================================

// PutObjectParams describes one local file to push. Checksum is the hex MD5
// of the file contents; the client sends it as Content-MD5 so the store
// rejects corrupted transfers.
type PutObjectParams struct {
	Key      string
	FilePath string
	Size     int64
	Checksum string
	Metadata map[string]string
}

// PutObjectResponse reports what the store committed. Checksum is the
// store-confirmed content MD5: the ETag for plain puts, the echoed
// md5-checksum metadata for multipart uploads.
type PutObjectResponse struct {
	Key          string
	Version      string
	ETag         string
	Checksum     string
	Size         int64
	LastModified time.Time
}

// ===================================================================================================

type HeadObjectResponse struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

type ObjectInfo struct {
	Key          string `json:"key"`
	ETag         string `json:"etag"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}
