package config

import (
	"encoding/json"
	"os"

	"github.com/personalizedrefrigerator/notesync/internal/flagx"
	"github.com/personalizedrefrigerator/notesync/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its non-zero fields are copied
// into the runtime Config struct, so a partial file overrides only what it
// names.
type JsonConfig struct {
	DatabaseFile   string         `json:"database_file"`
	Target         string         `json:"target"`
	TargetPath     string         `json:"target_path"`
	DatabaseDSN    string         `json:"database_dsn"`
	HTTPBaseURL    string         `json:"http_base_url"`
	HTTPToken      string         `json:"http_token"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
	S3Prefix       string         `json:"s3_prefix"`
	S3AccessKey    string         `json:"s3_access_key"`
	S3SecretKey    string         `json:"s3_secret_key"`
	MaxParallel    int            `json:"max_parallel"`
	MaxAttempts    int            `json:"max_attempts"`
	RetryBase      timex.Duration `json:"retry_base"`
	OpTimeout      timex.Duration `json:"op_timeout"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.DatabaseFile, c.DatabaseFile)
	setString(&config.Target, c.Target)
	setString(&config.TargetPath, c.TargetPath)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.HTTPBaseURL, c.HTTPBaseURL)
	setString(&config.HTTPToken, c.HTTPToken)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	if c.MaxParallel != 0 {
		config.MaxParallel = c.MaxParallel
	}
	if c.MaxAttempts != 0 {
		config.MaxAttempts = c.MaxAttempts
	}
	if c.RetryBase.Duration != 0 {
		config.RetryBase = c.RetryBase.Duration
	}
	if c.OpTimeout.Duration != 0 {
		config.OpTimeout = c.OpTimeout.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
