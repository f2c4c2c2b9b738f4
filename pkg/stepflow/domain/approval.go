package domain

import "time"

type ApprovalType string

const (
	ApprovalSingle     ApprovalType = "single"
	ApprovalMultiple   ApprovalType = "multiple"
	ApprovalPercentage ApprovalType = "percentage"
)

type VoteStatus string

const (
	VotePending  VoteStatus = "pending"
	VoteApproved VoteStatus = "approved"
	VoteRejected VoteStatus = "rejected"
)

type VoteAction string

const (
	ActionApprove VoteAction = "approve"
	ActionReject  VoteAction = "reject"
)

type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskApproved TaskStatus = "approved"
	TaskRejected TaskStatus = "rejected"
	TaskExpired  TaskStatus = "expired"
)

func (s TaskStatus) Terminal() bool { return s != TaskPending }

// DecidedBySystemExpiry marks tasks closed by the expiry sweeper.
const DecidedBySystemExpiry = "system:expiry"

type Approver struct {
	User      string     `json:"user"`
	Status    VoteStatus `json:"status"`
	Comment   string     `json:"comment,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ApprovalTask is the pause point for one approval step of one instance. The
// approver list is fixed when the task is created.
type ApprovalTask struct {
	ID                 string       `json:"id"`
	InstanceID         string       `json:"instanceId"`
	StepIndex          int          `json:"stepIndex"`
	StepName           string       `json:"stepName"`
	Type               ApprovalType `json:"type"`
	Approvers          []Approver   `json:"approvers"`
	RequiredApprovals  int          `json:"requiredApprovals,omitempty"`
	RequiredPercentage float64      `json:"requiredPercentage,omitempty"`
	Deadline           time.Time    `json:"deadline"`
	Status             TaskStatus   `json:"status"`
	DecidedBy          string       `json:"decidedBy,omitempty"`
	Created            time.Time    `json:"created"`
	Resolved           *time.Time   `json:"resolved,omitempty"`
	Revision           int64        `json:"revision"`
}

func (t *ApprovalTask) Clone() *ApprovalTask {
	out := *t
	out.Approvers = append([]Approver(nil), t.Approvers...)
	return &out
}

func (t *ApprovalTask) ApprovedCount() int {
	n := 0
	for _, a := range t.Approvers {
		if a.Status == VoteApproved {
			n++
		}
	}
	return n
}

// ApproverIndex returns the position of user in the approver list or -1.
func (t *ApprovalTask) ApproverIndex(user string) int {
	for i, a := range t.Approvers {
		if a.User == user {
			return i
		}
	}
	return -1
}
