package enums

// FailureReason records why a task was moved to the dead-letter table.
type FailureReason string

const (
	FailurePermanent          FailureReason = "permanent_failure"
	FailureMaxRetriesExceeded FailureReason = "max_retries_exceeded"
)

var validFailureReasons = []FailureReason{
	FailurePermanent,
	FailureMaxRetriesExceeded,
}

func (r FailureReason) IsValid() bool {
	for _, candidate := range validFailureReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// DLQResolution records how an operator disposed of a dead-letter row.
type DLQResolution string

const (
	ResolutionRequeued  DLQResolution = "requeued"
	ResolutionDiscarded DLQResolution = "discarded"
	ResolutionManual    DLQResolution = "manual_fix"
)

var validDLQResolutions = []DLQResolution{
	ResolutionRequeued,
	ResolutionDiscarded,
	ResolutionManual,
}

func (r DLQResolution) IsValid() bool {
	for _, candidate := range validDLQResolutions {
		if candidate == r {
			return true
		}
	}
	return false
}
