package accesscontrol

import (
	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/errutil"
	"smallbiznis-academy/pkg/middleware"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accesscontrol", fx.Provide(NewEnforcer))

const (
	ObjLicense    = "license"
	ObjSession    = "session"
	ObjEnrollment = "enrollment"
	ObjCompany    = "company"
	ObjSweep      = "sweep"

	ActRead  = "read"
	ActWrite = "write"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// admin inherits company, company inherits participant.
const defaultPolicy = `
p, participant, session, read
p, participant, enrollment, read
p, participant, enrollment, write
p, company, license, read
p, company, company, read
p, company, company, write
p, admin, license, write
p, admin, session, write
p, admin, sweep, write
g, company, participant
g, admin, company
`

type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

// NewEnforcer loads ACCESS_CONTROL.MODEL/POLICY files when set, else the built-in RBAC policy.
func NewEnforcer(cfg *config.Config) (Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		zap.L().Info("loading access control policy",
			zap.String("model", cfg.AccessControl.Model),
			zap.String("policy", cfg.AccessControl.Policy),
		)
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}
	return NewDefaultEnforcer()
}

func NewDefaultEnforcer() (Enforcer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}
	return casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
}

// Authorize rejects the request unless the actor's role may perform act on obj.
func Authorize(e Enforcer, obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.ActorFrom(c.Request.Context())

		ok, err := e.Enforce(actor.Role, obj, act)
		if err != nil {
			zap.L().Error("access control failure", zap.String("role", actor.Role), zap.Error(err))
			_ = c.Error(errutil.Internal("access control failure", err))
			c.Abort()
			return
		}
		if !ok {
			_ = c.Error(errutil.Forbidden("not allowed to "+act+" "+obj, nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
