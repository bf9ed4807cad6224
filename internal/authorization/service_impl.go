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
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPayment    = "payment"
	ObjectInvitation = "invitation"
	ObjectReferral   = "referral"
	ObjectEarning    = "earning"
)

const (
	ActionPaymentView    = "payment.view"
	ActionPaymentBatch   = "payment.batch"
	ActionPaymentApprove = "payment.approve"

	ActionInvitationCreate = "invitation.create"
	ActionInvitationView   = "invitation.view"

	ActionReferralView = "referral.view"
	ActionEarningView  = "earning.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
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

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
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
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "admin:") {
		adminIDRaw := strings.TrimPrefix(actor, "admin:")
		adminID, err := snowflake.ParseString(adminIDRaw)
		if err != nil || adminID == 0 {
			return "", "", ErrInvalidActor
		}
		role, err := s.roleForAdmin(ctx, adminID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForAdmin(ctx context.Context, adminID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM admin_users
		 WHERE id = ?
		 LIMIT 1`,
		adminID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
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

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Finance runs the money side end to end.
		{"role:finance", ObjectPayment, ActionPaymentView},
		{"role:finance", ObjectPayment, ActionPaymentBatch},
		{"role:finance", ObjectPayment, ActionPaymentApprove},
		{"role:finance", ObjectEarning, ActionEarningView},
		{"role:finance", ObjectReferral, ActionReferralView},

		// Executives get the finance surface plus participant onboarding.
		{"role:cto", ObjectPayment, ActionPaymentView},
		{"role:cto", ObjectPayment, ActionPaymentApprove},
		{"role:cto", ObjectInvitation, ActionInvitationCreate},
		{"role:cto", ObjectInvitation, ActionInvitationView},
		{"role:cto", ObjectEarning, ActionEarningView},
		{"role:cto", ObjectReferral, ActionReferralView},

		{"role:ceo", ObjectPayment, ActionPaymentView},
		{"role:ceo", ObjectPayment, ActionPaymentApprove},
		{"role:ceo", ObjectInvitation, ActionInvitationCreate},
		{"role:ceo", ObjectInvitation, ActionInvitationView},
		{"role:ceo", ObjectEarning, ActionEarningView},
		{"role:ceo", ObjectReferral, ActionReferralView},

		// Scheduler jobs batch payments without a signed-in admin.
		{"role:system", ObjectPayment, ActionPaymentView},
		{"role:system", ObjectPayment, ActionPaymentBatch},
	}

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

var Module = fx.Module("authorization",
	fx.Provide(
		NewEnforcer,
		NewService,
	),
)
