package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the authenticated actor placed on the request by Auth.
func ActorFromContext(ctx context.Context) (types.Actor, error) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context")
	}
	role, err := enums.ParseActorRole(RoleFromContext(ctx))
	if err != nil || role == enums.ActorRoleSystem {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing role context")
	}
	return types.Actor{UserID: userID, Role: role}, nil
}

// WithActor injects the actor into the context. Tests use it to skip token minting.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	return context.WithValue(ctx, ctxRole, string(actor.Role))
}
