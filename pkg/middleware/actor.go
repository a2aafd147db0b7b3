package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	HeaderActorRole = "X-ACTOR-ROLE"
	HeaderActorID   = "X-ACTOR-ID"
	HeaderCompanyID = "X-COMPANY-ID"
)

type actorKey struct{}

var ActorContextKey = actorKey{}

// Actor is the caller as asserted by the upstream gateway.
type Actor struct {
	Role      string
	ID        string
	CompanyID string
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return "anonymous"
	}
	return role
}

// WithActor places the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, a)
}

// ActorFrom returns the actor of ctx, anonymous when none was set.
func ActorFrom(ctx context.Context) Actor {
	a, ok := ctx.Value(ActorContextKey).(Actor)
	if !ok {
		return Actor{Role: "anonymous"}
	}
	return a
}

// ActorHandler reads the actor headers of an HTTP request into its context.
func ActorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := Actor{
			Role:      normalizeRole(c.GetHeader(HeaderActorRole)),
			ID:        c.GetHeader(HeaderActorID),
			CompanyID: c.GetHeader(HeaderCompanyID),
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), a))
		c.Next()
	}
}

// ActorInterceptor is the gRPC counterpart of ActorHandler.
func ActorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(WithActor(ctx, Actor{Role: "anonymous"}), req)
		}

		first := func(key string) string {
			if v := md.Get(key); len(v) > 0 {
				return v[0]
			}
			return ""
		}

		ctx = WithActor(ctx, Actor{
			Role:      normalizeRole(first(strings.ToLower(HeaderActorRole))),
			ID:        first(strings.ToLower(HeaderActorID)),
			CompanyID: first(strings.ToLower(HeaderCompanyID)),
		})
		return handler(ctx, req)
	}
}
