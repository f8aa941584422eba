package history

import (
	"strings"

	"github.com/cockroachdb/errors"

	logx "databay/pkg/logx"
)

// Open initializes the configured store. It returns (nil, nil) when history
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.Size), nil
	case "sqlite", "sqlite3":
		return OpenSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown history driver: %s", driver)
	}
}
