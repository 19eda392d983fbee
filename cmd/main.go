package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/digital-carver/keepass2/internal"
	"github.com/digital-carver/keepass2/internal/console"
	"github.com/digital-carver/keepass2/internal/status"
)

var (
	rootCmd = &cobra.Command{
		Use:           "s3-easy-pitr",
		Short:         "Simple PITR (Point-In-Time Recovery) for S3-compatible storage",
		Long:          "s3-easy-pitr is a small utility to recover object versions from S3-compatible storage as of a given time.",
		Example:       "# Run example using environment variables:\nS3_PITR_ENDPOINT=https://s3.example.com S3_PITR_ACCESS_KEY=AK... S3_PITR_SECRET_KEY=SK... S3_PITR_BUCKET=my-bucket S3_PITR_TARGET_TIME=2025-11-05T10:00:00Z s3-easy-pitr run --parallel 8",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// term owns stdout and stdin for every command. Log lines are written
	// through it so they land above whatever progress surface is showing.
	term = console.New(os.Stdin, os.Stdout)
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("endpoint", "e", "", "S3 endpoint (env: S3_PITR_ENDPOINT)")
	rootCmd.PersistentFlags().StringP("access-key", "a", "", "S3 access key (env: S3_PITR_ACCESS_KEY)")
	rootCmd.PersistentFlags().StringP("secret-key", "s", "", "S3 secret key (env: S3_PITR_SECRET_KEY)")
	rootCmd.PersistentFlags().StringP("region", "r", "", "S3 region (optional, env: S3_PITR_REGION)")
	rootCmd.PersistentFlags().BoolP("insecure", "k", false, "Disable TLS verification / use http (env: S3_PITR_INSECURE)")
	rootCmd.PersistentFlags().StringP("bucket", "b", "", "S3 bucket to target (required, env: S3_PITR_BUCKET)")
	rootCmd.PersistentFlags().StringP("prefix", "p", "", "Prefix to filter objects (env: S3_PITR_PREFIX)")

	rootCmd.PersistentFlags().IntP("parallel", "n", 8, "Number of parallel workers (env: S3_PITR_PARALLEL)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error (env: S3_PITR_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file, rotated at 50MB (env: S3_PITR_LOG_FILE)")
	rootCmd.PersistentFlags().StringP("target-time", "t", "", "Target time for point-in-time recovery (RFC3339, e.g. 2025-11-05T10:00:00Z) (env: S3_PITR_TARGET_TIME)")

	// Copy/multipart tuning
	rootCmd.PersistentFlags().Int("copy-retries", 5, "Number of retries for copy operations (env: S3_PITR_COPY_RETRIES). Increase for flaky networks")
	rootCmd.PersistentFlags().String("copy-timeout", "2m", "Per-copy timeout duration (env: S3_PITR_COPY_TIMEOUT), e.g. 30s, 2m. Increase for slow endpoints or very large parts")
	rootCmd.PersistentFlags().String("copy-part-size", "200MiB", "Part size for multipart copy (env: S3_PITR_COPY_PART_SIZE), e.g. 50MiB, 200MiB. Minimum 5MiB")
	rootCmd.PersistentFlags().String("multipart-threshold", "1GiB", "Objects larger than this use multipart copy (env: S3_PITR_MULTIPART_THRESHOLD). Default 1GiB")

	// Progress display
	rootCmd.PersistentFlags().Bool("threaded", false, "Draw progress from a dedicated goroutine instead of the operation's own. Log lines are not routed above the display in this mode and may be overdrawn (env: S3_PITR_THREADED)")
	rootCmd.PersistentFlags().String("surface", "bar", "Progress display: bar, tui or none (env: S3_PITR_SURFACE)")
	rootCmd.PersistentFlags().Duration("poll-interval", status.DefaultPollInterval, "How often a threaded display refreshes (env: S3_PITR_POLL_INTERVAL)")

	for _, key := range []string{
		"endpoint", "access-key", "secret-key", "region", "insecure", "bucket", "prefix",
		"parallel", "log-level", "log-file", "target-time",
		"copy-retries", "copy-timeout", "copy-part-size", "multipart-threshold",
		"threaded", "surface", "poll-interval",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}

	// Environment variables setup
	viper.SetEnvPrefix("S3_PITR")
	viper.AutomaticEnv()

	// Explicitly bind config keys to env vars
	viper.BindEnv("endpoint")
	viper.BindEnv("access-key", "S3_PITR_ACCESS_KEY") // Handle hyphenated keys
	viper.BindEnv("secret-key", "S3_PITR_SECRET_KEY")
	viper.BindEnv("region")
	viper.BindEnv("insecure")
	viper.BindEnv("bucket")
	viper.BindEnv("prefix")
	viper.BindEnv("parallel")
	viper.BindEnv("log-level", "S3_PITR_LOG_LEVEL")
	viper.BindEnv("log-file", "S3_PITR_LOG_FILE")
	viper.BindEnv("target-time", "S3_PITR_TARGET_TIME")
	viper.BindEnv("copy-retries", "S3_PITR_COPY_RETRIES")
	viper.BindEnv("copy-timeout", "S3_PITR_COPY_TIMEOUT")
	viper.BindEnv("copy-part-size", "S3_PITR_COPY_PART_SIZE")
	viper.BindEnv("multipart-threshold", "S3_PITR_MULTIPART_THRESHOLD")
	viper.BindEnv("threaded")
	viper.BindEnv("surface")
	viper.BindEnv("poll-interval", "S3_PITR_POLL_INTERVAL")
}

func initConfig() {
	lvl, err := internal.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v, defaulting to info\n", err)
		lvl = zapcore.InfoLevel
	}

	logger := internal.NewConsoleLogger(term, lvl, term.IsTerminal())
	logger = internal.WithLogFile(logger, viper.GetString("log-file"), lvl)
	// replace global logger so code can use zap.L()/zap.S()
	zap.ReplaceGlobals(logger)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
