package referral

import (
	"github.com/jijenga/referral/internal/referral/domain"
	"github.com/jijenga/referral/internal/referral/repository"
	"github.com/jijenga/referral/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral",
	fx.Provide(
		repository.Provide,
		service.NewService,
		func(s *service.Service) domain.Service { return s },
	),
)
