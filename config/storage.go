package config

import "errors"

// ErrStorageNotConfigured is returned when object storage credentials are missing.
var ErrStorageNotConfigured = errors.New("object storage is not configured")

// StorageConfig holds the S3-compatible object storage settings used for evidence images and logos.
type StorageConfig struct {
	EndpointURL     string `json:"endpoint_url"` // optional for AWS, required for Supabase/MinIO
	Region          string `json:"region"`
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	// PublicURL is the base under which objects are publicly readable, e.g.
	// https://<project>.supabase.co/storage/v1/object/public
	PublicURL string `json:"public_url"`
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		EndpointURL:     getEnv("S3_ENDPOINT_URL", ""),
		Region:          getEnv("S3_REGION", "us-east-1"),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		PublicURL:       getEnv("STORAGE_PUBLIC_URL", ""),
	}
}

// Enabled reports whether enough settings are present to talk to object storage.
func (s StorageConfig) Enabled() bool {
	return s.Validate() == nil
}

// Validate returns ErrStorageNotConfigured when a required setting is missing.
func (s StorageConfig) Validate() error {
	if s.AccessKeyID == "" || s.SecretAccessKey == "" || s.PublicURL == "" {
		return ErrStorageNotConfigured
	}
	return nil
}
