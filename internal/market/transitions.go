package market

import (
	errorsmod "cosmossdk.io/errors"
	"github.com/computemarket/cmkt/internal/models"
)

// lifecycleOp is an authority action that moves a task between statuses.
type lifecycleOp string

const (
	opStart    lifecycleOp = "start"
	opComplete lifecycleOp = "complete"
	opRefund   lifecycleOp = "refund"
)

// transitions is the complete table of legal task moves. Anything absent is
// rejected. Completing straight from created is allowed.
var transitions = map[models.TaskStatus]map[lifecycleOp]models.TaskStatus{
	models.TaskStatusCreated: {
		opStart:    models.TaskStatusRunning,
		opComplete: models.TaskStatusCompleted,
		opRefund:   models.TaskStatusRefunded,
	},
	models.TaskStatusRunning: {
		opComplete: models.TaskStatusCompleted,
		opRefund:   models.TaskStatusRefunded,
	},
}

// nextStatus returns the status op leads to from current.
func nextStatus(current models.TaskStatus, op lifecycleOp) (models.TaskStatus, error) {
	if next, ok := transitions[current][op]; ok {
		return next, nil
	}
	return "", errorsmod.Wrapf(ErrInvalidStateTransition, "cannot %s a %s task", op, current)
}
