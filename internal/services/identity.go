package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/veriflow/veriflow-backend/internal/models"
	"github.com/veriflow/veriflow-backend/pkg/utils"
)

// IdentityDirectory is the external user directory consulted during identity
// capture. Implemented by PostgresDirectory in production and by stubs in
// tests.
type IdentityDirectory interface {
	// FindByDocument returns the identity for a document number, or nil when
	// no active record matches.
	FindByDocument(ctx context.Context, documentNumber string) (*models.Identity, error)
	// UpdateContactEmail replaces the stored (encrypted) contact email.
	UpdateContactEmail(ctx context.Context, id, email string) error
}

// PostgresDirectory reads the identities table. Contact emails are encrypted
// at rest with AES-256-GCM and decrypted on the way out.
type PostgresDirectory struct {
	db  *sql.DB
	key []byte // AES-256 key; nil disables email decryption
}

func NewPostgresDirectory(db *sql.DB, encryptionKey []byte) *PostgresDirectory {
	return &PostgresDirectory{db: db, key: encryptionKey}
}

func (d *PostgresDirectory) FindByDocument(ctx context.Context, documentNumber string) (*models.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		identity       models.Identity
		emailEncrypted sql.NullString
		accountNumber  sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, document_type, document_number, display_name, email_encrypted, account_number, is_active, created_at
		FROM identities
		WHERE document_number = $1 AND is_active = TRUE
	`, documentNumber).Scan(
		&identity.ID,
		&identity.DocumentType,
		&identity.DocumentNumber,
		&identity.DisplayName,
		&emailEncrypted,
		&accountNumber,
		&identity.IsActive,
		&identity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	identity.AccountNumber = accountNumber.String
	if emailEncrypted.Valid && emailEncrypted.String != "" && d.key != nil {
		email, err := utils.Decrypt(d.key, emailEncrypted.String)
		if err != nil {
			// A corrupt ciphertext should not break identification.
			log.Printf("identity: failed to decrypt email for %s: %v", identity.ID, err)
		} else {
			identity.Email = email
		}
	}
	return &identity, nil
}

func (d *PostgresDirectory) UpdateContactEmail(ctx context.Context, id, email string) error {
	if d.key == nil {
		return fmt.Errorf("encryption key not configured")
	}
	encrypted, err := utils.Encrypt(d.key, email)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE identities SET email_encrypted = $1, updated_at = NOW() WHERE id = $2
	`, encrypted, id)
	return err
}

// SeedDevIdentities inserts a couple of sample records when the table is
// empty. Development only; never called in production.
func (d *PostgresDirectory) SeedDevIdentities(ctx context.Context) error {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []struct {
		docType models.DocumentType
		docNum  string
		name    string
		email   string
		account string
	}{
		{models.DocumentTypeNationalID, "12345678", "Ada Quintero", "ada@example.com", "ACC-0001"},
		{models.DocumentTypeNationalID, "87654321", "Bruno Ferreyra", "bruno@example.com", "ACC-0002"},
		{models.DocumentTypePassport, "9001234567", "Carla Mendez", "carla@example.com", "ACC-0003"},
	}

	for _, s := range seeds {
		var emailEncrypted string
		if d.key != nil {
			enc, err := utils.Encrypt(d.key, s.email)
			if err != nil {
				return err
			}
			emailEncrypted = enc
		}
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO identities (document_type, document_number, display_name, email_encrypted, account_number)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_type, document_number) DO NOTHING
		`, s.docType, s.docNum, s.name, emailEncrypted, s.account)
		if err != nil {
			return err
		}
	}
	log.Println("✅ Seeded development identities")
	return nil
}
