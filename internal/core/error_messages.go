package core

// error_messages.go maps errors to user-facing messages with a support code.
//
// # Error Codes Reference
//
// Users quote the code to support; support looks it up here.
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - Account number is missing       (ErrEmptyAccount)
//	VAL002 - There are no records to export  (ErrNoRecords)
//	VAL003 - Unknown field                   (ErrUnknownField)
//	VAL004 - Field is generated              (ErrReadOnlyField)
//	VAL005 - Last row cannot be removed      (ErrLastRow)
//	VAL006 - Row does not exist              (ErrRowOutOfRange)
//
// # Files (FILE001-FILE099)
//
//	FILE001 - File too large                 (ErrFileTooLarge)
//	FILE002 - Unsupported file format        (*ImportFormatError)
//	FILE003 - No file was selected           (ErrNoFile)
//	FILE004 - File has no data rows          (ErrEmptyFile)
//
// # Imports (IMP001-IMP099)
//
//	IMP001 - Import cancelled                (ErrImportCancelled)
//	IMP002 - Too many imports running        (ErrTooManyImports)
//	IMP003 - Import already running          (ErrImportInFlight)
//	IMP004 - A row could not be converted    (*ImportTransformError)
//	IMP005 - No import for this workspace    (ErrNoImportSession)
//	IMP006 - Import timed out                (context.DeadlineExceeded)
//
// # Staging (STG001-STG099)
//
//	STG001 - Saved import expired            (*PersistenceStaleError)
//	STG002 - Nothing saved to restore        (ErrNothingStaged)
//	STG003 - Staging store failure           pattern "staging:"
//
// # Workspaces (WSP001-WSP099)
//
//	WSP001 - Workspace not found             (ErrWorkspaceNotFound)
//
// # Rate limiting
//
//	RATE001 - Too many requests              pattern "rate limit"
//
// # Default
//
//	ERR000 - Unknown error. Check the logs for the technical error.
//
// Typed matches (errors.Is / errors.As) are tried in order before the
// case-insensitive string patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Support reference
}

type errorMatcher struct {
	match func(err error) bool
	msg   UserMessage
}

func matchIs(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func matchAs[T error]() func(error) bool {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

func matchText(pattern string) func(error) bool {
	return func(err error) bool {
		return strings.Contains(strings.ToLower(err.Error()), pattern)
	}
}

var errorMatchers = []errorMatcher{
	// Validation
	{matchIs(ErrEmptyAccount), UserMessage{"Account number is missing", "Fill in the account number before generating the file", "VAL001"}},
	{matchIs(ErrNoRecords), UserMessage{"There are no records to export", "Add or import at least one row", "VAL002"}},
	{matchIs(ErrUnknownField), UserMessage{"Unknown field", "Use one of the fields listed by the layout", "VAL003"}},
	{matchIs(ErrReadOnlyField), UserMessage{"This field is filled in automatically", "Edit another field", "VAL004"}},
	{matchIs(ErrLastRow), UserMessage{"The last row cannot be removed", "Clear its fields instead", "VAL005"}},
	{matchIs(ErrRowOutOfRange), UserMessage{"Row does not exist", "Reload the table and try again", "VAL006"}},

	// Files
	{matchIs(ErrFileTooLarge), UserMessage{"File exceeds the maximum upload size", "Split the spreadsheet into smaller files", "FILE001"}},
	{matchAs[*ImportFormatError](), UserMessage{"Unsupported file format", "Upload a .xlsx, .xlsm or .csv file", "FILE002"}},
	{matchIs(ErrNoFile), UserMessage{"No file was selected", "Select a spreadsheet to import", "FILE003"}},
	{matchIs(ErrEmptyFile), UserMessage{"The file has no data rows", "Check that the first sheet has a header row and data below it", "FILE004"}},

	// Imports
	{matchIs(ErrImportCancelled), UserMessage{"Import was cancelled", "Start a new import when ready", "IMP001"}},
	{matchIs(ErrTooManyImports), UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP002"}},
	{matchIs(ErrImportInFlight), UserMessage{"An import is already running for this table", "Wait for it to finish or cancel it", "IMP003"}},
	{matchAs[*ImportTransformError](), UserMessage{"A row could not be converted", "Check the row reported in the details and import again", "IMP004"}},
	{matchIs(ErrNoImportSession), UserMessage{"No import found for this table", "Start a new import", "IMP005"}},
	{matchIs(context.DeadlineExceeded), UserMessage{"Import timed out", "Try a smaller file or try again later", "IMP006"}},

	// Staging
	{matchAs[*PersistenceStaleError](), UserMessage{"The saved import has expired", "Import the file again", "STG001"}},
	{matchIs(ErrNothingStaged), UserMessage{"There is no saved import to restore", "Import the file again", "STG002"}},
	{matchText("staging:"), UserMessage{"Could not access saved imports", "Please try again in a few moments", "STG003"}},

	// Workspaces
	{matchIs(ErrWorkspaceNotFound), UserMessage{"Table not found", "It may have expired. Reload the page to start a new one", "WSP001"}},

	{matchText("rate limit"), UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-facing message.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, m := range errorMatchers {
		if m.match(err) {
			return m.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders MapError as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
