package earning

import (
	earningdomain "github.com/jijenga/referral/internal/earning/domain"
	"github.com/jijenga/referral/internal/earning/repository"
	earningservice "github.com/jijenga/referral/internal/earning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("earning",
	fx.Provide(
		repository.Provide,
		earningservice.NewService,
		func(s *earningservice.Service) earningdomain.Scheduler { return s },
	),
)
