// Package storage moves finalized files between the staging tree and the
// configured storage targets. All remote paths are slash-separated and
// relative to the target's bucket or folder root.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"labsync/internal/config"
	"labsync/internal/services"
)

// Gateway is one storage destination. Implementations must be safe for
// concurrent use: upload workers fan out file transfers across a pool.
type Gateway interface {
	// Name returns the configured storage name, e.g. "data".
	Name() string
	// Put copies the local file to remotePath on the target.
	Put(ctx context.Context, localPath, remotePath string) error
	// Get copies remotePath from the target to the local file.
	Get(ctx context.Context, remotePath, localPath string) error
	// Delete removes remotePath. With allVersions set, versioned targets
	// purge every stored version rather than just the head.
	Delete(ctx context.Context, remotePath string, allVersions bool) error
}

// Open builds the gateway for a named storage target.
func Open(name string, target config.StorageTarget, logger *slog.Logger) (Gateway, error) {
	switch target.Protocol {
	case "s3":
		return newS3Gateway(name, target, logger)
	case "local":
		return newLocalGateway(name, target, logger)
	default:
		return nil, services.Wrap(services.ErrValidation, "storage", "open",
			fmt.Sprintf("storage %s has unknown protocol %q", name, target.Protocol), nil)
	}
}
