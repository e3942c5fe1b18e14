package config

import (
	"encoding/json"
	"os"

	"github.com/vibeapp/mediavault/internal/flagx"
	"github.com/vibeapp/mediavault/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. Duration fields
// use timex.Duration so both "1h" strings and integer nanoseconds parse.
// Absent fields leave the corresponding Config values untouched.
type JsonConfig struct {
	EndpointAddr      string `json:"endpoint_addr"`
	DatabaseDSN       string `json:"database_dsn"`
	SecretKey         string `json:"secret_key"`
	PipelineToken     string `json:"pipeline_token"`
	NamespaceSecretID string `json:"namespace_secret_id"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	SQSQueueURL    string `json:"sqs_queue_url"`

	RecordIDLength     int            `json:"record_id_length"`
	MaxProfilesPerUser int            `json:"max_profiles_per_user"`
	MaxMediaPerProfile int            `json:"max_media_per_profile"`
	MinFileSize        int64          `json:"min_file_size"`
	MaxFileSize        int64          `json:"max_file_size"`
	AllowedFormats     []string       `json:"allowed_formats"`
	UploadExpiry       timex.Duration `json:"upload_expiry"`
}

// parseJson overlays configuration from the JSON file named by the -c/-config
// flags, if any. Missing file path means nothing to load; an unreadable or
// malformed file panics, since running with half-applied config is worse than
// not starting.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&config.EndpointAddr, c.EndpointAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PipelineToken, c.PipelineToken)
	setString(&config.NamespaceSecretID, c.NamespaceSecretID)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.SQSQueueURL, c.SQSQueueURL)

	if c.RecordIDLength > 0 {
		config.RecordIDLength = c.RecordIDLength
	}
	if c.MaxProfilesPerUser > 0 {
		config.MaxProfilesPerUser = c.MaxProfilesPerUser
	}
	if c.MaxMediaPerProfile > 0 {
		config.MaxMediaPerProfile = c.MaxMediaPerProfile
	}
	if c.MinFileSize > 0 {
		config.MinFileSize = c.MinFileSize
	}
	if c.MaxFileSize > 0 {
		config.MaxFileSize = c.MaxFileSize
	}
	if len(c.AllowedFormats) > 0 {
		config.AllowedFormats = c.AllowedFormats
	}
	if c.UploadExpiry.Duration > 0 {
		config.UploadExpiry = c.UploadExpiry.Duration
	}
}
