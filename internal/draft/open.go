package draft

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
)

// redisDraftTTL bounds how long an abandoned draft lingers in a shared Redis.
const redisDraftTTL = 7 * 24 * time.Hour

// Open builds the Store selected by cfg.DraftBackend.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, error) {
	switch cfg.DraftBackend {
	case config.DraftBackendFile, "":
		return NewFileStore(cfg.DraftDir)

	case config.DraftBackendRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb, redisDraftTTL), nil

	case config.DraftBackendSQLite:
		if dir := sqliteDir(cfg.DraftSQLiteDSN); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create draft db dir: %w", err)
			}
		}
		return OpenSQL(ctx, DriverSQLite, cfg.DraftSQLiteDSN)

	default:
		return nil, fmt.Errorf("unknown draft backend %q", cfg.DraftBackend)
	}
}

// sqliteDir extracts the parent directory of a "file:" DSN.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}
