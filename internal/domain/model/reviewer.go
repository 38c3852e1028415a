package model

// Reviewer is a reviewer identity attached to a pull request. The ID is the
// hosting platform's opaque identity reference, not a display name.
type Reviewer struct {
	ID          string
	DisplayName string
}
