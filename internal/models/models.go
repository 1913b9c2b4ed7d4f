package models

import "time"

// Account represents a registered user row
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // salted PBKDF2 hash (never in JSON)
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the result of a successful session validation
type Identity struct {
	SessionID int64     `json:"session_id"`
	AccountID int64     `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRequest represents registration request payload
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest represents login request payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse represents a successful register/login response
type AuthResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	Token            string `json:"token"`
	UserID           int64  `json:"userId"`
	Username         string `json:"username"`
	PasswordUpgraded bool   `json:"passwordUpgraded"`
}

// Website represents one bookmark entry
type Website struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Desc     string `json:"desc"`
	IconURL  string `json:"iconUrl"`
	LanURL   string `json:"lanUrl,omitempty"`
	DarkIcon bool   `json:"darkIcon"`
}

// CategoryGroup is the read endpoint's grouping shape
type CategoryGroup struct {
	Category string    `json:"category"`
	Items    []Website `json:"items"`
}

// SyncData holds one account's synchronized client state. The four blobs
// are stored opaque; the server never interprets them.
type SyncData struct {
	AccountID int64  `json:"-" dynamodbav:"account_id"`
	Favorites string `json:"-" dynamodbav:"favorites"`
	Order     string `json:"-" dynamodbav:"order"`
	Visits    string `json:"-" dynamodbav:"visits"`
	Clicks    string `json:"-" dynamodbav:"clicks"`
	Timestamp int64  `json:"timestamp" dynamodbav:"timestamp"`
}
