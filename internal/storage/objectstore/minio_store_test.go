package objectstore

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/minio/minio-go/v7"
)

func TestClassifyMapsMissingObjects(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NoSuchBucket"} {
		err := classify("bucket", "key", minio.ErrorResponse{Code: code, StatusCode: http.StatusNotFound})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("%s: expected not found, got %v", code, err)
		}
	}
	err := classify("bucket", "key", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden})
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected access denied to stay distinct, got %v", err)
	}
}

func TestUninitializedStore(t *testing.T) {
	var s *MinioStore
	if _, err := s.Stat(context.Background(), "b", "k"); err == nil {
		t.Fatalf("expected error from nil store")
	}
	if _, err := NewMinioStoreWithClient(nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
