package message

import (
	"time"
)

// Error severities
const (
	SeverityFailure = "failure"
	SeverityWarning = "warning"
)

// ErrorCode represents an ebMS3 error code
type ErrorCode struct {
	Code             string
	Severity         string
	ShortDescription string
	Category         string
}

// Predefined ebMS3 error codes
var (
	ErrorValueNotRecognized = ErrorCode{
		Code:             "EBMS:0001",
		Severity:         SeverityFailure,
		ShortDescription: "ValueNotRecognized",
		Category:         "Content",
	}

	ErrorValueInconsistent = ErrorCode{
		Code:             "EBMS:0003",
		Severity:         SeverityFailure,
		ShortDescription: "ValueInconsistent",
		Category:         "Content",
	}

	ErrorOther = ErrorCode{
		Code:             "EBMS:0004",
		Severity:         SeverityFailure,
		ShortDescription: "Other",
		Category:         "Content",
	}

	ErrorEmptyMessagePartition = ErrorCode{
		Code:             "EBMS:0006",
		Severity:         SeverityWarning,
		ShortDescription: "EmptyMessagePartitionChannel",
		Category:         "Communication",
	}

	ErrorProcessingModeMismatch = ErrorCode{
		Code:             "EBMS:0010",
		Severity:         SeverityFailure,
		ShortDescription: "ProcessingModeMismatch",
		Category:         "Processing",
	}

	ErrorFailedDecryption = ErrorCode{
		Code:             "EBMS:0102",
		Severity:         SeverityFailure,
		ShortDescription: "FailedDecryption",
		Category:         "Processing",
	}

	ErrorDeliveryFailure = ErrorCode{
		Code:             "EBMS:0202",
		Severity:         SeverityFailure,
		ShortDescription: "DeliveryFailure",
		Category:         "Communication",
	}

	ErrorMissingReceipt = ErrorCode{
		Code:             "EBMS:0301",
		Severity:         SeverityFailure,
		ShortDescription: "MissingReceipt",
		Category:         "Communication",
	}

	ErrorDecompressionFailure = ErrorCode{
		Code:             "EBMS:0303",
		Severity:         SeverityFailure,
		ShortDescription: "DecompressionFailure",
		Category:         "Communication",
	}
)

// NewError creates an error signal message referring to refMessageId
func NewError(refMessageId string, code ErrorCode, description string) *SignalMessage {
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp:      time.Now().UTC(),
			MessageId:      GenerateMessageID(),
			RefToMessageId: refMessageId,
		},
		Error: []Error{{
			ErrorCode:           code.Code,
			Severity:            code.Severity,
			ShortDescription:    code.ShortDescription,
			Category:            code.Category,
			Origin:              "ebMS",
			Description:         description,
			RefToMessageInError: refMessageId,
		}},
	}
}

// NewPullRequest creates a pull request signal for the given partition channel
func NewPullRequest(mpc string) *SignalMessage {
	if mpc == "" {
		mpc = DefaultMPC
	}
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp: time.Now().UTC(),
			MessageId: GenerateMessageID(),
		},
		PullRequest: &PullRequest{MPC: mpc},
	}
}
