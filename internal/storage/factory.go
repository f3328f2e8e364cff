package storage

import (
	"fmt"

	"github.com/MarchanoGG/Watchdog/internal/config"
)

// New opens the mirror destination.
func New(cfg config.MirrorConfig) (Storage, error) {
	switch cfg.Backend {
	case "local":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("mirror.local.path is required")
		}
		return NewLocal(cfg.Local.Path), nil
	case "s3", "":
		s := cfg.S3
		if s.Endpoint == "" || s.Bucket == "" {
			return nil, fmt.Errorf("s3 endpoint and bucket are required")
		}
		return NewS3(s.Endpoint, s.Region, s.Bucket, s.AccessKey, s.SecretKey, s.SessionToken, s.UseSSL, s.ForcePathStyle, s.TLSInsecureSkip)
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %s", cfg.Backend)
	}
}
