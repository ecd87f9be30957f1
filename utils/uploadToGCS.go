package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsBucket is a client bound to GCS_BUCKET. Close it when done.
type gcsBucket struct {
	client *storage.Client
	handle *storage.BucketHandle
}

// openGCSBucket prefers ADC (service account or GOOGLE_APPLICATION_CREDENTIALS);
// GCS_CREDENTIALS_JSON overrides it for local runs.
func openGCSBucket(ctx context.Context) (*gcsBucket, error) {
	name := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if name == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	var opts []option.ClientOption
	if credJSON := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &gcsBucket{client: client, handle: client.Bucket(name)}, nil
}

func (b *gcsBucket) Close() error { return b.client.Close() }

// UploadFileToGCS streams a local file into GCS_BUCKET under objectName.
func UploadFileToGCS(ctx context.Context, objectName string, localPath string, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	bucket, err := openGCSBucket(ctx)
	if err != nil {
		return err
	}
	defer bucket.Close()

	wc := bucket.handle.Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = map[string]string{"source_file": filepath.Base(localPath)}
	if _, err := io.Copy(wc, f); err != nil {
		_ = wc.Close()
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finish upload %s: %w", objectName, err)
	}
	return nil
}

// DeleteObjectFromGCS removes an object; a missing object is not an error.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	bucket, err := openGCSBucket(ctx)
	if err != nil {
		return err
	}
	defer bucket.Close()

	err = bucket.handle.Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
