package testgen

import "errors"

var (
	ErrTrackerUnavailable = errors.New("issue tracker unavailable")
	ErrTrackerRejected    = errors.New("issue tracker rejected request")

	ErrTestManagementUnavailable = errors.New("test management unavailable")
	ErrTestManagementRejected    = errors.New("test management rejected request")

	ErrAssistantUnavailable     = errors.New("assistant unavailable")
	ErrAssistantRunFailed       = errors.New("assistant run failed")
	ErrPollBudgetExhausted      = errors.New("assistant poll budget exhausted")
	ErrMalformedAssistantOutput = errors.New("malformed assistant output")

	ErrUnsupportedContainerKind = errors.New("unsupported container kind")
	ErrRecordStoreFailure       = errors.New("record store failure")

	ErrStoryKeyRequired = errors.New("story key is required")
	ErrUnknownStage     = errors.New("unknown assistant stage")
)
