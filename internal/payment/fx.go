package payment

import (
	"github.com/jijenga/referral/internal/payment/domain"
	"github.com/jijenga/referral/internal/payment/repository"
	"github.com/jijenga/referral/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(
		repository.Provide,
		service.NewService,
		func(s *service.Service) domain.Service { return s },
	),
)
