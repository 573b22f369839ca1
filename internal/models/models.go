// Package models holds the wire-level types shared by the REST API, the
// gateway and the file service.
package models

import (
	"encoding/json"
	"fmt"
)

// StatusType is a user's presence kind.
type StatusType string

const (
	StatusOnline  StatusType = "online"
	StatusOffline StatusType = "offline"
	StatusIdle    StatusType = "idle"
	StatusBusy    StatusType = "busy"
)

// Valid reports whether s is one of the known presence kinds.
func (s StatusType) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusIdle, StatusBusy:
		return true
	}
	return false
}

// Status is a user's presence: a kind plus optional free-form text.
type Status struct {
	Type StatusType `json:"type"`
	Text *string    `json:"text"`
}

// User is an account. Email and Verified are only populated when the user is
// fetched by themselves.
type User struct {
	ID           uint64  `json:"id"`
	Username     string  `json:"username"`
	DisplayName  *string `json:"display_name"`
	SocialCredit int64   `json:"social_credit"`
	Status       Status  `json:"status"`
	Bio          *string `json:"bio"`
	Avatar       *uint64 `json:"avatar"`
	Banner       *uint64 `json:"banner"`
	Badges       uint64  `json:"badges"`
	Permissions  uint64  `json:"permissions"`
	Email        *string `json:"email,omitempty"`
	Verified     *bool   `json:"verified,omitempty"`
}

// UserCreate is the payload for registering a new account.
type UserCreate struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUser changes account credentials. The current password is always
// required; the remaining fields are applied when present.
type UpdateUser struct {
	Password    string  `json:"password"`
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	NewPassword *string `json:"new_password"`
}

// UpdateUserProfile is a partial profile update. Every field distinguishes
// "absent" from "set to null" so that clients can clear values.
type UpdateUserProfile struct {
	DisplayName Nullable[string]     `json:"display_name"`
	Status      Nullable[string]     `json:"status"`
	StatusType  Nullable[StatusType] `json:"status_type"`
	Bio         Nullable[string]     `json:"bio"`
	Avatar      Nullable[uint64]     `json:"avatar"`
	Banner      Nullable[uint64]     `json:"banner"`
}

// Empty reports whether no field was supplied at all.
func (u *UpdateUserProfile) Empty() bool {
	return !u.DisplayName.Set && !u.Status.Set && !u.StatusType.Set &&
		!u.Bio.Set && !u.Avatar.Set && !u.Banner.Set
}

// PasswordDeleteCredentials re-authenticates a destructive request.
type PasswordDeleteCredentials struct {
	Password string `json:"password"`
}

// CreatePasswordResetCode requests a password reset email.
type CreatePasswordResetCode struct {
	Email string `json:"email"`
}

// ResetPassword redeems a password reset code.
type ResetPassword struct {
	Code     uint32 `json:"code"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is a logged-in client.
type Session struct {
	ID       uint64 `json:"id"`
	UserID   uint64 `json:"user_id"`
	Platform string `json:"platform"`
	Client   string `json:"client"`
	IP       string `json:"ip"`
}

// SessionCreate is the payload for logging in. Identifier may be a username
// or an email.
type SessionCreate struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Platform   string `json:"platform"`
	Client     string `json:"client"`
}

// SessionCreated is the login response.
type SessionCreated struct {
	Token   string  `json:"token"`
	Session Session `json:"session"`
}

// MessageDisguise overrides a message author's displayed name and avatar.
type MessageDisguise struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

// MessageCreate is the payload for posting a message.
type MessageCreate struct {
	Content  string           `json:"content"`
	Disguise *MessageDisguise `json:"_disguise,omitempty"`
}

// Message is a posted message. Messages are not persisted; they only exist
// as events.
type Message struct {
	Author User `json:"author"`
	MessageCreate
}

// File is a stored file row. Rows with the same hash and bucket share a
// FileID pointing at a single on-disk blob.
type File struct {
	ID          uint64
	FileID      uint64
	Name        string
	ContentType string
	Hash        string
	Bucket      string
	Spoiler     bool
	Width       *int
	Height      *int
}

// FileMetadata is the type-tagged public metadata of a file.
type FileMetadata struct {
	Type   string `json:"type"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

// FileData is the public representation of a stored file.
type FileData struct {
	ID       uint64       `json:"id"`
	Name     string       `json:"name"`
	Bucket   string       `json:"bucket"`
	Spoiler  bool         `json:"spoiler"`
	Metadata FileMetadata `json:"metadata"`
}

// Data derives a file's public representation from its row.
func (f File) Data() FileData {
	metadata := FileMetadata{Type: "other"}
	switch f.ContentType {
	case "image/gif", "image/jpeg", "image/png", "image/webp":
		if f.Width != nil && f.Height != nil {
			metadata = FileMetadata{Type: "image", Width: f.Width, Height: f.Height}
		}
	case "video/mp4", "video/webm", "video/quicktime":
		if f.Width != nil && f.Height != nil {
			metadata = FileMetadata{Type: "video", Width: f.Width, Height: f.Height}
		}
	default:
		if len(f.ContentType) >= 4 && f.ContentType[:4] == "text" {
			metadata = FileMetadata{Type: "text"}
		}
	}
	return FileData{
		ID:       f.ID,
		Name:     f.Name,
		Bucket:   f.Bucket,
		Spoiler:  f.Spoiler,
		Metadata: metadata,
	}
}

// Nullable is a JSON field that distinguishes an absent key from an explicit
// null. Set is true whenever the key appeared; Value is nil for null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Some builds a present, non-null Nullable.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null builds a present-but-null Nullable.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal nullable: %w", err)
	}
	n.Value = &v
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}
