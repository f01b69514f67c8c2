package core

// errors.go maps technical errors from the directory service and the
// transport to user-facing messages. Patterns are matched
// case-insensitively with strings.Contains; the first match wins, so
// specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage is a user-facing error with actionable guidance and a code
// the operator can quote to support staff.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Directory service errors (DIR001-DIR004).
	{
		pattern: "did not resolve username",
		msg: UserMessage{
			Message: "The directory could not resolve every username",
			Action:  "Check the username column and run the import again",
			Code:    "DIR001",
		},
	},
	{
		pattern: "unknown state",
		msg: UserMessage{
			Message: "The directory returned an unexpected answer",
			Action:  "Try again; contact support if this persists",
			Code:    "DIR002",
		},
	},
	{
		pattern: "unauthorized",
		msg: UserMessage{
			Message: "The directory rejected the request credentials",
			Action:  "Sign in again before retrying",
			Code:    "DIR003",
		},
	},
	{
		pattern: "status 5",
		msg: UserMessage{
			Message: "The directory service reported an internal error",
			Action:  "Wait a moment and retry the failed rows",
			Code:    "DIR004",
		},
	},

	// Transport errors (NET001-NET003).
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Could not reach the directory service",
			Action:  "Please try again in a few moments",
			Code:    "NET001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The directory call timed out",
			Action:  "Retry the failed rows; smaller batches may help",
			Code:    "NET002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "NET003",
		},
	},

	// Local refusals (IMP001-IMP003).
	{
		pattern: "table has errors",
		msg: UserMessage{
			Message: "The table has errors that block importing",
			Action:  "Fix the listed errors, then begin the import again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "already running",
		msg: UserMessage{
			Message: "An import is already running",
			Action:  "Wait for it to finish or stop it first",
			Code:    "IMP002",
		},
	},
	{
		pattern: "already stopping",
		msg: UserMessage{
			Message: "The import is already stopping",
			Action:  "Please be patient; the current batch must finish first",
			Code:    "IMP003",
		},
	},
}

// defaultMessage is the ERR000 fallback; support staff should check the
// logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders a mapped error as one display string:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
