package enums

type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts
}
