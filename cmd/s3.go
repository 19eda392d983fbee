package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	s3client "github.com/digital-carver/keepass2/internal/s3"
)

func s3Config() s3client.Config {
	return s3client.Config{
		Endpoint:  viper.GetString("endpoint"),
		AccessKey: viper.GetString("access-key"),
		SecretKey: viper.GetString("secret-key"),
		Region:    viper.GetString("region"),
		Insecure:  viper.GetBool("insecure"),
	}
}

// requireBucket is the PreRunE shared by every S3 command
func requireBucket() error {
	if viper.GetString("bucket") == "" {
		return fmt.Errorf("missing required option: --bucket or environment variable S3_PITR_BUCKET")
	}
	if viper.GetInt("parallel") <= 0 {
		return fmt.Errorf("invalid --parallel: must be > 0")
	}
	return nil
}

// byteSize parses sizes like "200MB" or "1GiB", falling back to def when
// the value is empty
func byteSize(key string, def int64) (int64, error) {
	s := viper.GetString(key)
	if s == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", strings.TrimPrefix(key, "test."), err)
	}
	return int64(n), nil
}
