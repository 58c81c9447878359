package escrow

import "errors"

var (
	ErrInvalidParty       = errors.New("escrow: invalid party")
	ErrInvalidAmount      = errors.New("escrow: invalid amount")
	ErrInvalidDescription = errors.New("escrow: description must be provided")
	ErrListingUnavailable = errors.New("escrow: listing inactive or not owned by seller")
	ErrNotFound           = errors.New("escrow: purchase not found")
	ErrUnauthorized       = errors.New("escrow: caller not authorized for this action")
	ErrInvalidState       = errors.New("escrow: action not allowed in current state")
	ErrProofRejected      = errors.New("escrow: proof rejected by verifier")
	ErrNotTimedOut        = errors.New("escrow: purchase not timed out")
	ErrAlreadyTerminal    = errors.New("escrow: purchase already in a terminal state")
	ErrInsufficientFunds  = errors.New("escrow: insufficient account balance")
	ErrCollaboratorFailure = errors.New("escrow: collaborator call failed")
)
