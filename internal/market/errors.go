package market

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error namespace of the market.
const Codespace = "market"

// Every rejected call aborts with one of these. Call sites wrap them with
// context; match with errors.Is.
var (
	ErrNotAuthorized          = errorsmod.Register(Codespace, 2, "caller is not the authority")
	ErrServiceNotActive       = errorsmod.Register(Codespace, 3, "service not active")
	ErrInsufficientPayment    = errorsmod.Register(Codespace, 4, "insufficient payment")
	ErrInvalidStateTransition = errorsmod.Register(Codespace, 5, "invalid task state transition")
	ErrNotFound               = errorsmod.Register(Codespace, 6, "not found")
	ErrInvalidArgument        = errorsmod.Register(Codespace, 7, "invalid argument")
	ErrTransferRejected       = errorsmod.Register(Codespace, 8, "settlement transfer rejected")
)
