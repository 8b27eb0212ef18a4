package config

// StorageConfig locates the object storage bucket.
type StorageConfig struct {
	Bucket        string
	Region        string
	Endpoint      string // LocalStack / MinIO endpoint, enables path-style addressing
	PublicBaseURL string
}

// LoadStorageConfigFrom reads the S3_* variables.
func LoadStorageConfigFrom(lookup Lookup) (StorageConfig, error) {
	e := newEnv(lookup)
	cfg := StorageConfig{
		Bucket:        e.must("S3_BUCKET"),
		Region:        e.str("S3_REGION", "us-east-1"),
		Endpoint:      e.get("S3_ENDPOINT"),
		PublicBaseURL: e.get("S3_PUBLIC_BASE_URL"),
	}
	return cfg, e.err()
}

// LoadStorageConfig reads the process environment.
func LoadStorageConfig() (StorageConfig, error) { return LoadStorageConfigFrom(nil) }
