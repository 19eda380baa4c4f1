package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden       ErrCode = "FORBIDDEN"
	ErrRoleNotAllowed  ErrCode = "ROLE_NOT_ALLOWED"
	ErrNotExamOwner    ErrCode = "NOT_EXAM_OWNER"
	ErrNotEnrolled     ErrCode = "NOT_ENROLLED"
	ErrNotAttemptOwner ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam lifecycle ────────────────────────────────────────────────
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotActive      ErrCode = "EXAM_NOT_ACTIVE"
	ErrExamNotSchedulable ErrCode = "EXAM_NOT_SCHEDULABLE"
	ErrInvalidWindow      ErrCode = "INVALID_WINDOW"
	ErrNoQuestions        ErrCode = "NO_QUESTIONS"
	ErrAttemptNotEditable ErrCode = "ATTEMPT_NOT_EDITABLE"
	ErrAttemptExpired     ErrCode = "ATTEMPT_EXPIRED"
	ErrAlreadySubmitted   ErrCode = "ALREADY_SUBMITTED"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrVersionConflict ErrCode = "VERSION_CONFLICT"
	ErrInvalidScore    ErrCode = "INVALID_SCORE"
	ErrNotGradable     ErrCode = "ATTEMPT_NOT_GRADABLE"

	// ─── Proctoring ────────────────────────────────────────────────────
	ErrSessionEnded       ErrCode = "SESSION_ENDED"
	ErrReconnectExpired   ErrCode = "RECONNECT_WINDOW_EXPIRED"
	ErrInvalidViolation   ErrCode = "INVALID_VIOLATION"
	ErrIngestUnavailable  ErrCode = "INGEST_UNAVAILABLE"
	ErrMonitorUnavailable ErrCode = "MONITOR_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrRoleNotAllowed:
		return "Your role cannot perform this action."
	case ErrNotExamOwner:
		return "You do not own this exam."
	case ErrNotEnrolled:
		return "You are not enrolled in this exam."
	case ErrNotAttemptOwner:
		return "This attempt belongs to another student."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam lifecycle ────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is not accepting attempts right now."
	case ErrExamNotActive:
		return "This exam is not active."
	case ErrExamNotSchedulable:
		return "Only a scheduled exam can be published."
	case ErrInvalidWindow:
		return "Exam window must have both start and end, with end after start."
	case ErrNoQuestions:
		return "None of the selected questions exist in the question bank."
	case ErrAttemptNotEditable:
		return "This attempt can no longer be edited."
	case ErrAttemptExpired:
		return "The time for this attempt has run out."
	case ErrAlreadySubmitted:
		return "This exam has already been submitted."
	case ErrUnknownQuestion:
		return "The question is not part of this exam."

	// ─── Grading ───────────────────────────────────────────────────────
	case ErrVersionConflict:
		return "The attempt was graded by someone else. Reload and try again."
	case ErrInvalidScore:
		return "A score is negative or exceeds the question's maximum."
	case ErrNotGradable:
		return "This attempt has not been submitted yet."

	// ─── Proctoring ────────────────────────────────────────────────────
	case ErrSessionEnded:
		return "This session has ended."
	case ErrReconnectExpired:
		return "The reconnect window for this session has passed."
	case ErrInvalidViolation:
		return "The violation report is invalid."
	case ErrIngestUnavailable:
		return "Violation ingestion is temporarily unavailable."
	case ErrMonitorUnavailable:
		return "Live monitoring needs Redis and is not available."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
