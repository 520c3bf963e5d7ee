package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"labsync/internal/config"
	"labsync/internal/logging"
	"labsync/internal/services"
)

// s3Gateway talks to an S3-compatible object store. Transfers go through the
// SDK's upload/download managers so large recordings move in parallel parts.
type s3Gateway struct {
	name       string
	bucket     string
	prefix     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	logger     *slog.Logger
}

func newS3Gateway(name string, target config.StorageTarget, logger *slog.Logger) (*s3Gateway, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(target.Region),
	}
	if target.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(target.AccessKey, target.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageFailure, "storage", "open",
			fmt.Sprintf("load aws config for %s", name), err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if target.Endpoint != "" {
			o.BaseEndpoint = aws.String(target.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Gateway{
		name:       name,
		bucket:     target.Bucket,
		prefix:     target.Folder,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		logger:     logger,
	}, nil
}

func (g *s3Gateway) Name() string { return g.name }

func (g *s3Gateway) key(remotePath string) string {
	if g.prefix == "" {
		return remotePath
	}
	return path.Join(g.prefix, remotePath)
}

func (g *s3Gateway) Put(ctx context.Context, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "put",
			fmt.Sprintf("open %s", localPath), err)
	}
	defer file.Close()

	key := g.key(remotePath)
	_, err = g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "put",
			fmt.Sprintf("upload %s to %s/%s", localPath, g.bucket, key), err)
	}
	g.logger.Debug("object uploaded",
		slog.String(logging.FieldStorage, g.name),
		slog.String(logging.FieldPath, key))
	return nil
}

func (g *s3Gateway) Get(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "get",
			fmt.Sprintf("create directory for %s", localPath), err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return services.Wrap(services.ErrStorageFailure, "storage", "get",
			fmt.Sprintf("create %s", localPath), err)
	}
	defer file.Close()

	key := g.key(remotePath)
	_, err = g.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = os.Remove(localPath)
		return services.Wrap(services.ErrStorageFailure, "storage", "get",
			fmt.Sprintf("download %s/%s", g.bucket, key), err)
	}
	g.logger.Debug("object downloaded",
		slog.String(logging.FieldStorage, g.name),
		slog.String(logging.FieldPath, key))
	return nil
}

func (g *s3Gateway) Delete(ctx context.Context, remotePath string, allVersions bool) error {
	key := g.key(remotePath)
	if !allVersions {
		_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(g.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return services.Wrap(services.ErrStorageFailure, "storage", "delete",
				fmt.Sprintf("delete %s/%s", g.bucket, key), err)
		}
		return nil
	}

	// Versioned buckets keep deleted objects recoverable; purging raw files
	// after compression has to remove every stored version.
	paginator := s3.NewListObjectVersionsPaginator(g.client, &s3.ListObjectVersionsInput{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return services.Wrap(services.ErrStorageFailure, "storage", "delete",
				fmt.Sprintf("list versions of %s/%s", g.bucket, key), err)
		}
		var objects []types.ObjectIdentifier
		for _, version := range page.Versions {
			if aws.ToString(version.Key) != key {
				continue
			}
			objects = append(objects, types.ObjectIdentifier{
				Key:       version.Key,
				VersionId: version.VersionId,
			})
		}
		for _, marker := range page.DeleteMarkers {
			if aws.ToString(marker.Key) != key {
				continue
			}
			objects = append(objects, types.ObjectIdentifier{
				Key:       marker.Key,
				VersionId: marker.VersionId,
			})
		}
		if len(objects) == 0 {
			continue
		}
		_, err = g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(g.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return services.Wrap(services.ErrStorageFailure, "storage", "delete",
				fmt.Sprintf("purge versions of %s/%s", g.bucket, key), err)
		}
	}
	return nil
}
