package invitation

import (
	invitationdomain "github.com/jijenga/referral/internal/invitation/domain"
	invitationservice "github.com/jijenga/referral/internal/invitation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invitation",
	fx.Provide(
		invitationservice.NewService,
		func(s *invitationservice.Service) invitationdomain.Service { return s },
	),
)
