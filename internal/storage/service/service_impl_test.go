package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/collectra/internal/config"
	"github.com/smallbiznis/collectra/internal/storage/domain"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	return New(Params{
		Log: zap.NewNop(),
		Cfg: config.Config{Storage: config.StorageConfig{
			Dir:            t.TempDir(),
			MaxUploadBytes: 1 << 20,
		}},
		GenID: node,
	})
}

func TestSaveWritesUnderBucketDir(t *testing.T) {
	node, _ := snowflake.NewNode(1)
	dir := t.TempDir()
	svc := New(Params{
		Log:   zap.NewNop(),
		Cfg:   config.Config{Storage: config.StorageConfig{Dir: dir, MaxUploadBytes: 1 << 20}},
		GenID: node,
	})

	relPath, err := svc.Save(context.Background(), domain.SaveRequest{
		Bucket: domain.BucketMemoAttachments,
		Name:   "promise letter.pdf",
		MIME:   "application/pdf",
		Data:   []byte("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(relPath, "memo-attachments/") {
		t.Fatalf("path should start with the bucket, got %s", relPath)
	}
	if !strings.HasSuffix(relPath, "promise_letter.pdf") {
		t.Fatalf("name should be sanitized, got %s", relPath)
	}

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(relPath)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Fatalf("content mismatch")
	}
}

func TestSaveRejectsWrongMIMEForBucket(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Save(context.Background(), domain.SaveRequest{
		Bucket: domain.BucketCheckImages,
		Name:   "notes.txt",
		MIME:   "text/plain",
		Data:   []byte("hello"),
	})
	if err != domain.ErrMIMENotAllowed {
		t.Fatalf("expected ErrMIMENotAllowed, got %v", err)
	}
}

func TestSaveRejectsUnknownBucket(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Save(context.Background(), domain.SaveRequest{
		Bucket: "secrets",
		Name:   "x.pdf",
		MIME:   "application/pdf",
		Data:   []byte("x"),
	})
	if err != domain.ErrUnknownBucket {
		t.Fatalf("expected ErrUnknownBucket, got %v", err)
	}
}

func TestSaveEnforcesGlobalCap(t *testing.T) {
	node, _ := snowflake.NewNode(1)
	svc := New(Params{
		Log:   zap.NewNop(),
		Cfg:   config.Config{Storage: config.StorageConfig{Dir: t.TempDir(), MaxUploadBytes: 4}},
		GenID: node,
	})

	_, err := svc.Save(context.Background(), domain.SaveRequest{
		Bucket: domain.BucketMemoAttachments,
		Name:   "big.pdf",
		MIME:   "application/pdf",
		Data:   []byte("12345"),
	})
	if err != domain.ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestValidateRef(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name    string
		bucket  domain.Bucket
		relPath string
		wantErr error
	}{
		{"valid pdf", domain.BucketMemoAttachments, "memo-attachments/123_letter.pdf", nil},
		{"wrong bucket prefix", domain.BucketMemoAttachments, "check-images/123_scan.png", domain.ErrInvalidRef},
		{"traversal", domain.BucketMemoAttachments, "memo-attachments/../../etc/passwd", domain.ErrInvalidRef},
		{"absolute", domain.BucketMemoAttachments, "/memo-attachments/x.pdf", domain.ErrInvalidRef},
		{"disallowed extension", domain.BucketMemoAttachments, "memo-attachments/run.exe", domain.ErrMIMENotAllowed},
		{"no extension", domain.BucketMemoAttachments, "memo-attachments/blob", domain.ErrMIMENotAllowed},
		{"unknown bucket", "secrets", "secrets/x.pdf", domain.ErrUnknownBucket},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.ValidateRef(tc.bucket, tc.relPath); err != tc.wantErr {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
