// Package record defines the record payloads that can diverge between the
// local cache and the remote repository.
//
// Payload is a closed union keyed by Type: every variant implements
// RecordType, and callers switch on the concrete type to get exhaustive
// handling of posts, messages, profiles and media.
package record

import (
	"fmt"
	"reflect"
	"time"
)

// Type is the semantic type of a synchronized record.
type Type string

const (
	TypePost    Type = "post"
	TypeMessage Type = "message"
	TypeProfile Type = "profile"
	TypeMedia   Type = "media"
)

// Types lists every known record type in a stable order.
var Types = []Type{TypePost, TypeMessage, TypeProfile, TypeMedia}

// Valid reports whether t is a known record type.
func (t Type) Valid() bool {
	switch t {
	case TypePost, TypeMessage, TypeProfile, TypeMedia:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// ParseType converts s into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown record type %q", s)
	}
	return t, nil
}

// Payload is a type-specific record snapshot.
type Payload interface {
	RecordType() Type
	isPayload()
}

// Comment is a single comment attached to a post.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post is a feed post with its reactions and comment thread.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId,omitempty"`
	Text      string    `json:"text"`
	Media     []string  `json:"media,omitempty"`
	Reactions []string  `json:"reactions,omitempty"`
	Comments  []Comment `json:"comments,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	EditedAt  time.Time `json:"editedAt,omitzero"`
}

// LastModified returns the edit time, falling back to the creation time.
func (p *Post) LastModified() time.Time {
	if !p.EditedAt.IsZero() {
		return p.EditedAt
	}
	return p.CreatedAt
}

// DeliveryStatus tracks a message through the delivery pipeline.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Message is a direct message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId,omitempty"`
	SenderID       string         `json:"senderId,omitempty"`
	Text           string         `json:"text"`
	Status         DeliveryStatus `json:"status"`
	Attachments    []string       `json:"attachments,omitempty"`
	SentAt         time.Time      `json:"sentAt"`
}

// Profile is a user's public identity.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Description string    `json:"description"`
	Avatar      string    `json:"avatar"`
	Followers   []string  `json:"followers,omitempty"`
	Following   []string  `json:"following,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Media is an uploaded asset.
type Media struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash,omitempty"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (*Post) RecordType() Type    { return TypePost }
func (*Message) RecordType() Type { return TypeMessage }
func (*Profile) RecordType() Type { return TypeProfile }
func (*Media) RecordType() Type   { return TypeMedia }

func (*Post) isPayload()    {}
func (*Message) isPayload() {}
func (*Profile) isPayload() {}
func (*Media) isPayload()   {}

// IsAbsent reports whether p carries no snapshot: a nil interface or a typed
// nil pointer.
func IsAbsent(p Payload) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Clone returns a deep copy of p.
func Clone(p Payload) Payload {
	if IsAbsent(p) {
		return nil
	}
	switch v := p.(type) {
	case *Post:
		c := *v
		c.Media = cloneStrings(v.Media)
		c.Reactions = cloneStrings(v.Reactions)
		if v.Comments != nil {
			c.Comments = append([]Comment(nil), v.Comments...)
		}
		return &c
	case *Message:
		c := *v
		c.Attachments = cloneStrings(v.Attachments)
		return &c
	case *Profile:
		c := *v
		c.Followers = cloneStrings(v.Followers)
		c.Following = cloneStrings(v.Following)
		return &c
	case *Media:
		c := *v
		return &c
	}
	return p
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
