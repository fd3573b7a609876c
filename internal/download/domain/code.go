package domain

import "time"

// Code is a single-use download code and its redemption state. A code starts
// unused; the first successful redemption binds it to the redeeming address
// and starts the grace window during which that address may retry.
type Code struct {
	ID            string
	Code          string
	Used          bool
	UsedIP        string // empty until first redemption, then immutable
	UsedAt        *time.Time
	Attempts      int
	LastAttemptAt *time.Time
	CreatedAt     time.Time
}

// Stats summarises the code table for the admin surface.
type Stats struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// RedeemOutcome is the closed set of results a redemption attempt can have.
// Each maps 1:1 to a user-facing message.
type RedeemOutcome string

const (
	// RedeemValid grants a download: either first use or an in-window retry.
	RedeemValid RedeemOutcome = "valid"
	// RedeemInvalid means no such code exists.
	RedeemInvalid RedeemOutcome = "invalid"
	// RedeemAlreadyUsed covers redemption by a different address and retries
	// after the grace window. Both are deliberately indistinguishable.
	RedeemAlreadyUsed RedeemOutcome = "already_used"
	// RedeemMaxAttempts means the retry budget inside the grace window is spent.
	RedeemMaxAttempts RedeemOutcome = "max_attempts"
)
