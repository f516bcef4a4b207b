package blob

// S3Config points the client at one bucket on S3 or any S3-compatible
// endpoint (MinIO, R2, etc).
type S3Config struct {
	BucketName    string
	Region        string
	AccessKey     string
	SecretKey     string
	SessionToken  string
	Endpoint      string
	UseAccelerate bool
}
