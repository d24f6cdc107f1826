package kv

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Options selects and configures a backend
type Options struct {
	Backend   string // "file", "redis" or "memory"
	ConfigDir string
	Redis     RedisOptions
	Logger    *zap.Logger
}

// Open builds the configured backend. A corrupt state file is logged and
// replaced by an empty store; it never fails startup.
func Open(opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch opts.Backend {
	case "", "file":
		s, err := NewFileStore(opts.ConfigDir)
		if errors.Is(err, ErrCorrupt) {
			logger.Warn("discarding unreadable state file", zap.String("path", s.GetFilePath()), zap.Error(err))
			return s, nil
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		return NewRedisStore(opts.Redis)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
