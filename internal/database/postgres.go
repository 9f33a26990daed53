package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to the PostgreSQL identity directory.
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Println("✅ Connected to PostgreSQL")

	// Initialize tables
	if err = InitPostgresTables(); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist.
func InitPostgresTables() error {
	queries := []string{
		// Identity directory. Contact email is stored AES-256-GCM encrypted;
		// the plaintext never reaches the database.
		`CREATE TABLE IF NOT EXISTS identities (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			document_type VARCHAR(30) NOT NULL DEFAULT 'national_id',
			document_number VARCHAR(20) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			email_encrypted TEXT,
			account_number VARCHAR(30),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(document_type, document_number)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_identities_document_number ON identities(document_number)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_account_number ON identities(account_number)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_is_active ON identities(is_active)`,
	}

	for _, query := range queries {
		if _, err := PostgresDB.Exec(query); err != nil {
			return err
		}
	}

	log.Println("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection.
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
