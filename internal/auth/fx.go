package auth

import (
	"github.com/jijenga/referral/internal/auth/domain"
	"github.com/jijenga/referral/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(
		service.NewService,
		func(s *service.Service) domain.Service { return s },
	),
)
