package models

import "time"

// Musician is a person who can join jam sessions.
type Musician struct {
	ID   int32   `json:"id"`
	Name *string `json:"name,omitempty"`

	UpdatedBy string    `json:"updatedBy,omitempty"` // User ID from the JWT of the last writer
	UpdatedAt time.Time `json:"updatedAt"`
}

// Band is a named group of musicians.
type Band struct {
	ID      int32      `json:"id"`
	Name    *string    `json:"name,omitempty"`
	Members []Musician `json:"member"`

	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is the stored record of a jam session. Live signaling state is
// never persisted; a record only names the session and who plays in it.
type Session struct {
	ID      int32      `json:"id"`
	Name    *string    `json:"name,omitempty"`
	Members []Musician `json:"member"`

	UpdatedBy string    `json:"updatedBy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PutMusicianRequest is the request body for creating or replacing a musician
type PutMusicianRequest struct {
	Name *string `json:"name"`
}

// PutGroupRequest is the request body for creating or replacing a band or
// session record
type PutGroupRequest struct {
	Name    *string `json:"name"`
	Members []int32 `json:"member" binding:"max=64,dive,min=1"`
}

// LiveSession describes a session that currently has a signaling broadcast
type LiveSession struct {
	Name  string `json:"name"`
	Peers int    `json:"peers"`
}
