package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"labsync/internal/config"
	"labsync/internal/fileutil"
	"labsync/internal/logging"
	"labsync/internal/services"
)

// localGateway stores objects under a plain directory tree. It backs tests
// and single-machine setups where no object store is available.
type localGateway struct {
	name   string
	root   string
	logger *slog.Logger
}

func newLocalGateway(name string, target config.StorageTarget, logger *slog.Logger) (*localGateway, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(target.Folder, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorageFailure, "storage", "open",
			fmt.Sprintf("create local storage root %s", target.Folder), err)
	}
	return &localGateway{name: name, root: target.Folder, logger: logger}, nil
}

func (g *localGateway) Name() string { return g.name }

func (g *localGateway) resolve(remotePath string) string {
	return filepath.Join(g.root, filepath.FromSlash(remotePath))
}

func (g *localGateway) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fileutil.CopyFileVerified(localPath, g.resolve(remotePath)); err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "put",
			fmt.Sprintf("copy %s into %s", localPath, g.name), err)
	}
	g.logger.Debug("object stored",
		slog.String(logging.FieldStorage, g.name),
		slog.String(logging.FieldPath, remotePath))
	return nil
}

func (g *localGateway) Get(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := g.resolve(remotePath)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrNotFound, "storage", "get",
			fmt.Sprintf("object %s not in %s", remotePath, g.name), nil)
	}
	if _, err := fileutil.CopyFileVerified(src, localPath); err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "get",
			fmt.Sprintf("copy %s out of %s", remotePath, g.name), err)
	}
	return nil
}

func (g *localGateway) Delete(ctx context.Context, remotePath string, allVersions bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(g.resolve(remotePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "delete",
			fmt.Sprintf("remove %s from %s", remotePath, g.name), err)
	}
	return nil
}
