package types

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// Actor identifies who performs an action: a marketplace user or the processor itself.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

// SystemActor is recorded for transitions driven by processor callbacks.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) IsOperator() bool {
	return a.Role == enums.ActorRoleAdmin
}
