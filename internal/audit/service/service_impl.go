package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/collectra/internal/actorcontext"
	"github.com/smallbiznis/collectra/internal/audit/domain"
	"github.com/smallbiznis/collectra/internal/audit/masking"
	"github.com/smallbiznis/collectra/pkg/db/pagination"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// AuditLog appends one trail entry. Actor identity falls back to the context
// principal, then to "system", so background jobs never write anonymous rows.
func (s *service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)

	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		ctxType, ctxID := actorcontext.ActorFromContext(ctx)
		actorType = ctxType
		if actorID == nil && ctxID != "" {
			actorID = &ctxID
		}
	}
	if actorType == "" {
		actorType = string(domain.ActorTypeSystem)
	}

	entry := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    normalizeID(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizeID(targetID),
		Metadata:   datatypes.JSONMap(enrichMetadata(ctx, metadata)),
	}

	if ip := actorcontext.IPAddressFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := actorcontext.UserAgentFromContext(ctx); ua != "" {
		entry.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Error("failed to insert audit log",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (s *service) List(ctx context.Context, req domain.ListAuditLogRequest) (domain.ListAuditLogResponse, error) {
	var resp domain.ListAuditLogResponse

	if req.StartAt != nil && req.EndAt != nil && req.EndAt.Before(*req.StartAt) {
		return resp, domain.ErrInvalidTimeRange
	}

	filter := domain.ListFilter{
		Action:     strings.TrimSpace(req.Action),
		TargetType: strings.TrimSpace(req.TargetType),
		TargetID:   strings.TrimSpace(req.TargetID),
		ActorType:  strings.TrimSpace(req.ActorType),
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Limit:      req.Limit(),
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := decodeAuditCursor(token)
		if err != nil {
			return resp, domain.ErrInvalidPageToken
		}
		filter.Cursor = cursor
	}

	entries, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		s.log.Error("failed to list audit logs", zap.Error(err))
		return resp, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(filter.Limit), func(entry *domain.AuditLog) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})

	entries = pagination.TrimPage(entries, filter.Limit)

	resp.PageInfo = *pageInfo
	resp.AuditLogs = make([]domain.AuditLog, 0, len(entries))
	for _, entry := range entries {
		resp.AuditLogs = append(resp.AuditLogs, *entry)
	}

	return resp, nil
}

func decodeAuditCursor(token string) (*domain.AuditCursor, error) {
	raw, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}

	id, err := snowflake.ParseString(raw.ID)
	if err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339Nano, raw.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &domain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

// sensitiveMetadataKeys never reach the trail in clear text.
var sensitiveMetadataKeys = map[string]struct{}{
	"token":         {},
	"secret":        {},
	"password":      {},
	"api_key":       {},
	"client_secret": {},
	"authorization": {},
}

func enrichMetadata(ctx context.Context, metadata map[string]any) map[string]any {
	requestID := actorcontext.RequestIDFromContext(ctx)
	if requestID == "" && len(metadata) == 0 {
		return nil
	}

	enriched := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		if _, sensitive := sensitiveMetadataKeys[strings.ToLower(k)]; sensitive {
			if s, ok := v.(string); ok {
				enriched[k] = masking.MaskSecret(s)
				continue
			}
		}
		enriched[k] = v
	}
	if requestID != "" {
		enriched["request_id"] = requestID
	}
	return enriched
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
