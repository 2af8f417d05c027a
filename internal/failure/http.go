package failure

import "net/http"

// StatusCode maps a failure onto the HTTP status handlers answer with.
func StatusCode(err error) int {
	switch ReasonOf(err) {
	case InvalidCapture, InvalidAmount, LimitExceeded, UnknownMerchant:
		return http.StatusBadRequest
	case KeyMismatch:
		return http.StatusUnauthorized
	case UserNotEnrolled:
		return http.StatusNotFound
	case AlreadyEnrolled:
		return http.StatusConflict
	case BroadcastRejected:
		return http.StatusUnprocessableEntity
	case NodeUnreachable:
		return http.StatusBadGateway
	case NodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a caller. Internal errors are not
// described beyond their reason.
func PublicMessage(err error) string {
	if ReasonOf(err) == Internal {
		return "internal error"
	}
	return err.Error()
}
