// Package archive stores exported PDFs in a Cloud Storage bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"pdfmark/pkg/logger"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Archiver keeps a copy of an exported file and returns where it went.
type Archiver interface {
	Save(ctx context.Context, object string, data []byte) (string, error)
}

type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCS opens a client for bucket using application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name must be provided")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

// Save writes data to object unless it already exists. An existing object is
// not an error; its URI is returned.
func (g *GCS) Save(ctx context.Context, object string, data []byte) (string, error) {
	uri := URI(g.name, object)
	w := g.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			logger.Sugar.Infof("Archive: %s already exists", uri)
			return uri, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			logger.Sugar.Infof("Archive: %s already exists", uri)
			return uri, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return uri, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// ObjectName builds the object path for an export.
func ObjectName(sessionID, exportID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document.pdf"
	}
	return path.Join("exports", sessionID, exportID+"-"+base)
}

func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
