/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1005

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1006
)

// 2xxx: Room and Message Business Logic Errors
const (
	// ErrInvalidRoom indicates a malformed room key, an unknown group, or a
	// self-addressed direct chat.
	ErrInvalidRoom = 2101

	// ErrMissingRecipient indicates a send intent that names no recipient,
	// group, or room key.
	ErrMissingRecipient = 2102

	// ErrEmptyMessage indicates a send intent with neither text content nor
	// an attachment reference.
	ErrEmptyMessage = 2103

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2104

	// ErrMessageNotFound indicates that the referenced message does not exist.
	ErrMessageNotFound = 2105

	// ErrNotMessageSender indicates an attempt to delete a message authored by someone else.
	ErrNotMessageSender = 2106

	// ErrGroupNotFound indicates that the referenced group does not exist.
	ErrGroupNotFound = 2201

	// ErrGroupNameExists indicates that the attempted group name is already taken.
	ErrGroupNameExists = 2202

	// ErrNotGroupOwner indicates a group mutation attempted by a non-owner.
	ErrNotGroupOwner = 2203

	// ErrAlreadyGroupMember indicates an add-member request for an existing member.
	ErrAlreadyGroupMember = 2204

	// ErrNotGroupMember indicates a remove-member request for a non-member.
	ErrNotGroupMember = 2205
)

// 3xxx: User, Session, and Connection Errors
const (
	// ErrUnauthorized indicates a missing or failed authentication, or a
	// membership check failure for a room operation.
	ErrUnauthorized = 3001

	// ErrHandshakeFailed indicates that a realtime connection attempt could not
	// be authenticated. Fatal to that connection attempt only.
	ErrHandshakeFailed = 3002

	// ErrDuplicateConnection indicates that connection policy forbids a second
	// concurrent connection for the same identity.
	ErrDuplicateConnection = 3003

	// ErrProtocolViolation indicates an oversized or structurally invalid
	// frame. Fatal to the connection.
	ErrProtocolViolation = 3004

	// ErrSlowConsumer indicates the connection's outbound queue overflowed.
	// Fatal to the connection; recoverable by reconnecting and catching up
	// through the message history endpoint.
	ErrSlowConsumer = 3005

	// ErrInvalidEmail indicates a malformed registration email.
	ErrInvalidEmail = 3101

	// ErrInvalidUsername indicates a malformed registration username.
	ErrInvalidUsername = 3102

	// ErrInvalidPassword indicates a password outside the accepted length range.
	ErrInvalidPassword = 3103

	// ErrUserAlreadyExists indicates that the email or username is already registered.
	ErrUserAlreadyExists = 3104

	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = 3105

	// ErrUserNotFound indicates that the referenced user account does not exist.
	ErrUserNotFound = 3106
)

// 4xxx: Attachment Errors
const (
	// ErrFileSizeTooLarge indicates an attachment exceeding the size limit.
	ErrFileSizeTooLarge = 4001

	// ErrFileTypeInvalid indicates an attachment with a disallowed or mismatched MIME type.
	ErrFileTypeInvalid = 4002

	// ErrFileStorageFailed indicates a failure talking to the blob store.
	ErrFileStorageFailed = 4003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageUnavailable indicates that the durable store rejected or failed
	// a write. The whole operation fails; no partial fan-out ever occurs.
	ErrStorageUnavailable = 5001
)
