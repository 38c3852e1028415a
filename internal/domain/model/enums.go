package model

// ApprovalState represents whether a pull request already carries an
// approval vote, and from whom.
type ApprovalState string

const (
	ApprovalNone    ApprovalState = "none"     // No approval vote recorded.
	ApprovalBySelf  ApprovalState = "by_self"  // Approved by this agent's reviewer identity.
	ApprovalByOther ApprovalState = "by_other" // Approved by someone else.
)
