// Package blob selects and decorates the artifact store used for backups.
package blob

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"medipos/m/internal/blob/core"
	"medipos/m/internal/blob/fs"
	"medipos/m/internal/blob/memory"
	"medipos/m/internal/blob/s3"
)

type Config struct {
	Driver      string
	Dir         string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Open builds the configured store. Remote stores are wrapped in a circuit
// breaker so an unreachable bucket fails fast.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (core.Store, error) {
	driver := core.Driver(cfg.Driver)
	if driver == "" {
		driver = core.DriverFilesystem
	}
	switch driver {
	case core.DriverFilesystem:
		return fs.New(cfg.Dir)
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		st, err := s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewBreaker(st, DefaultBreakerConfig("backup-s3"), log), nil
	}
	return nil, fmt.Errorf("unknown blob driver %s", driver)
}
