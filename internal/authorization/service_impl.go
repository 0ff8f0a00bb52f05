package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/collectra/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectProfile   = "profiles"
	ObjectCustomer  = "customers"
	ObjectInvoice   = "invoices"
	ObjectPayment   = "payments"
	ObjectTicket    = "tickets"
	ObjectRule      = "rules"
	ObjectReminder  = "reminders"
	ObjectAnalytics = "analytics"
	ObjectAuditLog  = "audit"
	ObjectJob       = "jobs"
	ObjectToken     = "tokens"
)

const (
	ActionRead    = "read"
	ActionWrite   = "write"
	ActionApprove = "approve"
	ActionRun     = "run"
)

const (
	RoleAdmin     = "role:admin"
	RoleManager   = "role:manager"
	RoleCollector = "role:collector"
	RoleCustomer  = "role:customer"
	RoleSystem    = "role:system"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorType, actorID, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(object, action) {
		s.auditGranted(ctx, actorType, actorID, object, action)
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, string, *string, error) {
	if actor == "system" {
		return actor, RoleSystem, "system", nil, nil
	}
	if strings.HasPrefix(actor, "token:") {
		// Service tokens act with system scope; their reach is bounded by scopes at the edge.
		tokenIDRaw := strings.TrimPrefix(actor, "token:")
		tokenID, err := snowflake.ParseString(tokenIDRaw)
		if err != nil || tokenID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		tokenIDStr := tokenID.String()
		return actor, RoleSystem, "token", &tokenIDStr, nil
	}
	if strings.HasPrefix(actor, "user:") {
		profileIDRaw := strings.TrimPrefix(actor, "user:")
		profileID, err := snowflake.ParseString(profileIDRaw)
		if err != nil || profileID == 0 {
			return "", "", "", nil, ErrInvalidActor
		}
		profileIDStr := profileID.String()
		role, err := s.roleForProfile(ctx, profileID)
		if err != nil {
			return actor, "", "user", &profileIDStr, err
		}
		roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
		return actor, roleName, "user", &profileIDStr, nil
	}
	return "", "", "", nil, ErrInvalidActor
}

func (s *ServiceImpl) roleForProfile(ctx context.Context, profileID snowflake.ID) (string, error) {
	var row struct {
		Role   string `gorm:"column:role"`
		Status string `gorm:"column:status"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role, status
		 FROM profiles
		 WHERE id = ?
		 LIMIT 1`,
		profileID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" || row.Status != "approved" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": actorSubject(actorType, actorID),
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object":  object,
		"action":  action,
		"subject": actorSubject(actorType, actorID),
	})
}

func actorSubject(actorType string, actorID *string) string {
	switch actorType {
	case "system":
		return "system"
	case "token":
		if actorID != nil && strings.TrimSpace(*actorID) != "" {
			return fmt.Sprintf("token:%s", strings.TrimSpace(*actorID))
		}
	case "user":
		if actorID != nil && strings.TrimSpace(*actorID) != "" {
			return fmt.Sprintf("user:%s", strings.TrimSpace(*actorID))
		}
	}
	return ""
}

func shouldAuditGrant(object string, action string) bool {
	if action == ActionApprove || action == ActionRun {
		return true
	}
	return object == ObjectToken && action == ActionWrite
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	allObjects := []string{
		ObjectProfile,
		ObjectCustomer,
		ObjectInvoice,
		ObjectPayment,
		ObjectTicket,
		ObjectRule,
		ObjectReminder,
		ObjectAnalytics,
		ObjectAuditLog,
		ObjectJob,
		ObjectToken,
	}

	policies := [][]string{}

	// Admin and system get the full surface.
	for _, role := range []string{RoleAdmin, RoleSystem} {
		for _, object := range allObjects {
			policies = append(policies,
				[]string{role, object, ActionRead},
				[]string{role, object, ActionWrite},
			)
		}
		policies = append(policies,
			[]string{role, ObjectProfile, ActionApprove},
			[]string{role, ObjectJob, ActionRun},
		)
	}

	// Managers run collections but never touch tokens or trigger jobs by hand.
	for _, object := range []string{
		ObjectProfile,
		ObjectCustomer,
		ObjectInvoice,
		ObjectPayment,
		ObjectTicket,
		ObjectRule,
		ObjectReminder,
		ObjectAnalytics,
		ObjectAuditLog,
		ObjectJob,
	} {
		policies = append(policies, []string{RoleManager, object, ActionRead})
	}
	for _, object := range []string{
		ObjectProfile,
		ObjectCustomer,
		ObjectInvoice,
		ObjectTicket,
		ObjectRule,
		ObjectReminder,
	} {
		policies = append(policies, []string{RoleManager, object, ActionWrite})
	}
	policies = append(policies, []string{RoleManager, ObjectProfile, ActionApprove})

	// Collectors read the mirror, work their tickets and reminders.
	for _, object := range []string{
		ObjectCustomer,
		ObjectInvoice,
		ObjectPayment,
		ObjectTicket,
		ObjectRule,
		ObjectReminder,
		ObjectAnalytics,
	} {
		policies = append(policies, []string{RoleCollector, object, ActionRead})
	}
	policies = append(policies,
		[]string{RoleCollector, ObjectTicket, ActionWrite},
		[]string{RoleCollector, ObjectReminder, ActionWrite},
	)

	// Customers see only mirror data; repositories scope rows to their ERP id.
	policies = append(policies,
		[]string{RoleCustomer, ObjectCustomer, ActionRead},
		[]string{RoleCustomer, ObjectInvoice, ActionRead},
		[]string{RoleCustomer, ObjectPayment, ActionRead},
	)

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
