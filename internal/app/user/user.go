/*
Package user contains core data structures related to user identity.

It defines the basic representation of an authenticated participant (the Identity
struct), used for passing user information both internally and to clients.
*/
package user

// Identity represents an authenticated chat participant. It is attached to a
// connection at handshake time and is immutable for the connection's lifetime.
type Identity struct {

	// ID is the unique identifier for the user.
	ID string `json:"id"`

	// Username is the display name of the user.
	Username string `json:"username"`

	// AvatarKey is the blob-store key of the user's profile picture, if any.
	AvatarKey string `json:"avatarKey,omitempty"`
}
