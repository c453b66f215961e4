package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"page-mirror/internal/db"
	"page-mirror/internal/logging"
	"page-mirror/internal/models"
	"page-mirror/internal/security"
)

// DefaultValidity is the credential validity window the upstream grants on
// a fresh connect.
const DefaultValidity = 60 * 24 * time.Hour

var ErrNoCredential = errors.New("no credential for page")

// Store holds page access credentials encrypted at rest. Credentials are
// decrypted on every read and never cached across invocations.
type Store struct {
	db            *db.DB
	encryptionKey []byte
	logger        *slog.Logger
}

func NewStore(logger *slog.Logger, dbConn *db.DB, encryptionKey []byte) (*Store, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	return &Store{
		db:            dbConn,
		encryptionKey: encryptionKey,
		logger:        logger,
	}, nil
}

// Get reads and decrypts the credential for a page. ErrNoCredential when
// the page has none stored.
func (s *Store) Get(ctx context.Context, pageID string) (string, error) {
	var encrypted string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT token_encrypted FROM page_credentials WHERE page_id = $1`,
		pageID,
	).Scan(&encrypted)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}

	secret, err := security.DecryptSecret(encrypted, s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return secret, nil
}

// Save stores a fresh credential with the given validity window (pass 0 for
// the default 60 days) and restores the page to valid status.
func (s *Store) Save(ctx context.Context, pageID, secret string, validity time.Duration) error {
	if validity <= 0 {
		validity = DefaultValidity
	}

	encrypted, err := security.EncryptSecret(secret, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	expiresAt := time.Now().Add(validity)

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO page_credentials (page_id, token_encrypted, expires_at, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (page_id) DO UPDATE SET
		   token_encrypted = EXCLUDED.token_encrypted,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = now()`,
		pageID, encrypted, expiresAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE pages SET token_status = $1, token_expires_at = $2, active = TRUE, updated_at = now()
		 WHERE id = $3`,
		string(models.TokenValid), expiresAt, pageID,
	)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("credential_saved",
		"page_id", pageID,
		"token", logging.MaskToken(secret),
		"expires_at", expiresAt,
	)
	return nil
}

// MarkExpired flips the subscription to expired and deactivates it. This is
// the only writer of that transition; the page stays dormant until an
// external re-authorization calls Save again.
func (s *Store) MarkExpired(ctx context.Context, pageID string) error {
	_, err := s.db.Pool.Exec(ctx,
		`UPDATE pages SET token_status = $1, active = FALSE, updated_at = now()
		 WHERE id = $2`,
		string(models.TokenExpired), pageID,
	)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}

	s.logger.Warn("credential_marked_expired", "page_id", pageID)
	return nil
}
