package models

import "github.com/RealZimboGuy/stepflow/pkg/stepflow/domain"

type VoteRequest struct {
	Action  domain.VoteAction `json:"action"`
	Comment string            `json:"comment,omitempty"`
	// UserID votes on behalf of another approver; only accepted from admin users.
	UserID string `json:"userId,omitempty"`
}

// ApprovalFilter narrows ListPendingApprovals. User restricts to tasks where
// that approver has not voted yet.
type ApprovalFilter struct {
	User       string `json:"user,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
