package user

import (
	userdomain "github.com/jijenga/referral/internal/user/domain"
	"github.com/jijenga/referral/pkg/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("user",
	fx.Provide(repository.ProvideStore[userdomain.User]),
	fx.Provide(repository.ProvideStore[userdomain.AdminUser]),
)
