package types

// SubmissionStatus tracks whether a submission's items carry running numbers
type SubmissionStatus string

const (
	// SubmissionStatusUnsequenced means the submission has no numbered items
	SubmissionStatusUnsequenced SubmissionStatus = "unsequenced"
	// SubmissionStatusSequenced means every item carries a running number
	SubmissionStatusSequenced SubmissionStatus = "sequenced"
)

func (s SubmissionStatus) String() string {
	return string(s)
}
