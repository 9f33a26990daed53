package models

import "time"

// DocumentType classifies the identity document a user presents.
type DocumentType string

const (
	DocumentTypeNationalID DocumentType = "national_id"
	DocumentTypePassport   DocumentType = "passport"
)

// Identity is a row of the external identity directory (PostgreSQL).
// Email is decrypted on read; at rest it is AES-256-GCM encrypted.
type Identity struct {
	ID             string       `json:"id"`
	DocumentType   DocumentType `json:"document_type"`
	DocumentNumber string       `json:"document_number"`
	DisplayName    string       `json:"display_name"`
	Email          string       `json:"email,omitempty"`
	AccountNumber  string       `json:"account_number,omitempty"`
	IsActive       bool         `json:"is_active"`
	CreatedAt      time.Time    `json:"created_at"`
}
