/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Message Business Logic Errors
	ErrInvalidRoom:           {Code: ErrInvalidRoom, Message: "Invalid chat room.", Status: http.StatusBadRequest},
	ErrMissingRecipient:      {Code: ErrMissingRecipient, Message: "No recipient specified.", Status: http.StatusBadRequest},
	ErrEmptyMessage:          {Code: ErrEmptyMessage, Message: "Message has no content or attachment.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrMessageNotFound:       {Code: ErrMessageNotFound, Message: "Message not found.", Status: http.StatusNotFound},
	ErrNotMessageSender:      {Code: ErrNotMessageSender, Message: "You can only delete messages you sent.", Status: http.StatusForbidden},
	ErrGroupNotFound:         {Code: ErrGroupNotFound, Message: "Group not found.", Status: http.StatusNotFound},
	ErrGroupNameExists:       {Code: ErrGroupNameExists, Message: "Group name is already taken.", Status: http.StatusConflict},
	ErrNotGroupOwner:         {Code: ErrNotGroupOwner, Message: "Only the group owner can do that.", Status: http.StatusForbidden},
	ErrAlreadyGroupMember:    {Code: ErrAlreadyGroupMember, Message: "User is already a member of this group.", Status: http.StatusConflict},
	ErrNotGroupMember:        {Code: ErrNotGroupMember, Message: "User is not a member of this group.", Status: http.StatusBadRequest},

	// 3xxx: User, Session, and Connection Errors
	ErrUnauthorized:        {Code: ErrUnauthorized, Message: "You are not a member of this room.", Status: http.StatusForbidden},
	ErrHandshakeFailed:     {Code: ErrHandshakeFailed, Message: "Connection could not be authenticated.", Status: http.StatusUnauthorized},
	ErrDuplicateConnection: {Code: ErrDuplicateConnection, Message: "You are already connected from another device.", Status: http.StatusConflict},
	ErrProtocolViolation:   {Code: ErrProtocolViolation, Message: "Malformed or oversized frame."},
	ErrSlowConsumer:        {Code: ErrSlowConsumer, Message: "Connection is too slow; please reconnect."},
	ErrInvalidEmail:        {Code: ErrInvalidEmail, Message: "Invalid email address.", Status: http.StatusBadRequest},
	ErrInvalidUsername:     {Code: ErrInvalidUsername, Message: "Invalid username.", Status: http.StatusBadRequest},
	ErrInvalidPassword:     {Code: ErrInvalidPassword, Message: "Invalid password.", Status: http.StatusBadRequest},
	ErrUserAlreadyExists:   {Code: ErrUserAlreadyExists, Message: "Email or username is already registered.", Status: http.StatusConflict},
	ErrInvalidCredentials:  {Code: ErrInvalidCredentials, Message: "Incorrect email or password.", Status: http.StatusUnauthorized},
	ErrUserNotFound:        {Code: ErrUserNotFound, Message: "Account not found.", Status: http.StatusNotFound},

	// 4xxx: Attachment Errors
	ErrFileSizeTooLarge: {Code: ErrFileSizeTooLarge, Message: "File is too large.", Status: http.StatusBadRequest},
	ErrFileTypeInvalid:  {Code: ErrFileTypeInvalid, Message: "File type is not allowed.", Status: http.StatusBadRequest},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again.",
		Status: http.StatusBadGateway},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageUnavailable: {Code: ErrStorageUnavailable, Message: "Message could not be saved. Please retry.", Status: http.StatusServiceUnavailable},
}
