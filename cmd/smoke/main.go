// Command smoke walks a live gateway through the bucket lifecycle using the
// same packages the HTTP server is built from.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/eteran/granary/internal/clients"
	"github.com/eteran/granary/internal/config"
	"github.com/eteran/granary/internal/objects"
	"github.com/eteran/granary/internal/store"
	"github.com/eteran/granary/internal/upload"
)

const (
	ObjectName    = "example.txt"
	NestedName    = "some/path/example.txt"
	ObjectContent = "Hello, Granary!"
)

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// UploadFile stores data under object using the multipart uploader.
func UploadFile(ctx context.Context, up *upload.Uploader, key store.Key, bucket string, object string, data []byte) error {
	res, err := up.Upload(ctx, key, bucket, object, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", object, bucket, err)
	}
	slog.Info("Uploaded object to bucket", "object", object, "bucket", bucket, "parts", res.Parts, "size", humanize.IBytes(uint64(res.Size)))
	return nil
}

// ListFolder logs the folders and files directly under prefix.
func ListFolder(ctx context.Context, repo *objects.Repository, key store.Key, bucket string, prefix string) error {
	listing, err := repo.ListByPrefix(ctx, key, bucket, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %q in bucket %q: %w", prefix, bucket, err)
	}
	for _, f := range listing.Folders {
		slog.Info("Folder in bucket", "bucket", bucket, "prefix", f)
	}
	for _, o := range listing.Files {
		slog.Info("Object in bucket", "bucket", bucket, "key", o.Key, "size", humanize.IBytes(uint64(o.Size)))
	}
	return nil
}

// DownloadVerify fetches object through a presigned URL and compares it with want.
func DownloadVerify(ctx context.Context, repo *objects.Repository, key store.Key, bucket string, object string, want []byte) error {
	u, err := repo.PresignDownload(ctx, key, bucket, object, 0)
	if err != nil {
		return fmt.Errorf("failed to presign %q: %w", object, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %q: %w", object, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %q: unexpected status %s", object, resp.Status)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", object, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("downloaded %q does not match uploaded content", object)
	}
	slog.Info("Downloaded object", "object", object, "size", humanize.IBytes(uint64(len(got))))
	return nil
}

func Run(ctx context.Context, repo *objects.Repository, up *upload.Uploader, key store.Key) error {
	bucket := "granary-smoke-" + uuid.NewString()[:8]

	// 1. Create a scratch bucket.
	if err := repo.CreateBucket(ctx, key, bucket); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	slog.Info("Created bucket", "bucket", bucket)

	// 2. Upload one object at the root and one nested under a folder.
	if err := UploadFile(ctx, up, key, bucket, ObjectName, []byte(ObjectContent)); err != nil {
		return err
	}
	if err := UploadFile(ctx, up, key, bucket, NestedName, []byte(ObjectContent)); err != nil {
		return err
	}

	// 3. Browse the root and the nested folder.
	if err := ListFolder(ctx, repo, key, bucket, ""); err != nil {
		return err
	}
	if err := ListFolder(ctx, repo, key, bucket, "some/path/"); err != nil {
		return err
	}

	// 4. Download through a presigned URL.
	if err := DownloadVerify(ctx, repo, key, bucket, NestedName, []byte(ObjectContent)); err != nil {
		return err
	}

	// 5. Remove the bucket along with its contents.
	if err := repo.DeleteBucket(ctx, key, bucket); err != nil {
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	slog.Info("Deleted bucket", "bucket", bucket)
	return nil
}

func main() {
	key := store.Key{
		AccessKey: getenv("GRANARY_SMOKE_ACCESS_KEY", ""),
		SecretKey: getenv("GRANARY_SMOKE_SECRET_KEY", ""),
	}
	if !key.Valid() {
		slog.Error("GRANARY_SMOKE_ACCESS_KEY and GRANARY_SMOKE_SECRET_KEY must be set")
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	factory, err := clients.New(cfg)
	if err != nil {
		slog.Error("failed to create client factory", "err", err)
		os.Exit(1)
	}

	repo := objects.New(factory, objects.WithPresignExpiry(cfg.PresignExpiry))
	up := upload.New(factory, upload.WithPartSize(cfg.PartSize), upload.WithConcurrency(cfg.UploadConcurrency))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := Run(ctx, repo, up, key); err != nil {
		var se *store.StepError
		if errors.As(err, &se) {
			slog.Error("smoke run stopped partway", "step", se.Step, "item", se.Item, "err", err)
		} else {
			slog.Error("smoke run failed", "err", err)
		}
		os.Exit(1)
	}
	slog.Info("Smoke run completed")
}
