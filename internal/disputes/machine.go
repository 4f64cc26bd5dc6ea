package disputes

import (
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
)

var next = map[enums.DisputeStatus]enums.DisputeStatus{
	enums.DisputeStatusPending: enums.DisputeStatusProcess,
	enums.DisputeStatusProcess: enums.DisputeStatusResolved,
}

// Transition allows only the single forward step from the current status.
func Transition(from, to enums.DisputeStatus) error {
	if step, ok := next[from]; ok && step == to {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispute transition not allowed").
		WithDetails(map[string]any{
			"entity": "dispute",
			"from":   from,
			"to":     to,
		})
}
