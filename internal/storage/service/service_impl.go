package service

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/collectra/internal/config"
	"github.com/smallbiznis/collectra/internal/storage/domain"
)

// bucketPolicies is fixed: buckets are part of the product contract, not
// runtime config. Sizes can still be tightened globally via config.
var bucketPolicies = map[domain.Bucket]domain.Policy{
	domain.BucketCustomerFiles: {
		AllowedMIMEs: []string{"application/pdf", "image/png", "image/jpeg", "text/csv"},
		MaxBytes:     10 << 20,
	},
	domain.BucketCheckImages: {
		AllowedMIMEs: []string{"image/png", "image/jpeg", "image/tiff"},
		MaxBytes:     5 << 20,
	},
	domain.BucketMemoAttachments: {
		AllowedMIMEs: []string{"application/pdf", "image/png", "image/jpeg", "text/plain"},
		MaxBytes:     10 << 20,
	},
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	dir   string
	cap   int64
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("storage.service"),
		dir:   p.Cfg.Storage.Dir,
		cap:   p.Cfg.Storage.MaxUploadBytes,
		genID: p.GenID,
	}
}

func (s *Service) Save(ctx context.Context, req domain.SaveRequest) (string, error) {
	policy, ok := bucketPolicies[req.Bucket]
	if !ok {
		return "", domain.ErrUnknownBucket
	}

	name := sanitizeName(req.Name)
	if name == "" {
		return "", domain.ErrInvalidName
	}
	if !mimeAllowed(policy, req.MIME) {
		return "", domain.ErrMIMENotAllowed
	}

	limit := policy.MaxBytes
	if s.cap > 0 && s.cap < limit {
		limit = s.cap
	}
	if int64(len(req.Data)) > limit {
		return "", domain.ErrTooLarge
	}

	// prefix with an id so two uploads of "invoice.pdf" never collide
	stored := fmt.Sprintf("%s_%s", s.genID.Generate().String(), name)
	relPath := path.Join(string(req.Bucket), stored)

	absDir := filepath.Join(s.dir, string(req.Bucket))
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(absDir, stored), req.Data, 0o644); err != nil {
		return "", err
	}

	s.log.Debug("stored attachment",
		zap.String("bucket", string(req.Bucket)),
		zap.String("path", relPath),
		zap.Int("bytes", len(req.Data)),
	)
	return relPath, nil
}

func (s *Service) ValidateRef(bucket domain.Bucket, relPath string) error {
	policy, ok := bucketPolicies[bucket]
	if !ok {
		return domain.ErrUnknownBucket
	}

	cleaned := path.Clean(strings.TrimSpace(relPath))
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return domain.ErrInvalidRef
	}
	if !strings.HasPrefix(cleaned, string(bucket)+"/") {
		return domain.ErrInvalidRef
	}

	ext := strings.ToLower(path.Ext(cleaned))
	if ext == "" {
		return domain.ErrMIMENotAllowed
	}
	mimeType := mime.TypeByExtension(ext)
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if !mimeAllowed(policy, mimeType) {
		return domain.ErrMIMENotAllowed
	}
	return nil
}

func mimeAllowed(policy domain.Policy, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, allowed := range policy.AllowedMIMEs {
		if mimeType == allowed {
			return true
		}
	}
	return false
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
