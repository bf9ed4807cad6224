package referrallink

import (
	linkdomain "github.com/jijenga/referral/internal/referrallink/domain"
	"github.com/jijenga/referral/internal/referrallink/repository"
	linkservice "github.com/jijenga/referral/internal/referrallink/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referrallink",
	fx.Provide(
		repository.Provide,
		linkservice.NewService,
		func(s *linkservice.Service) linkdomain.Service { return s },
	),
)
