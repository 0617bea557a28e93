package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bract/internal/domain/connection"
	"bract/internal/infrastructure/crypto"
)

const uniqueViolation = "23505"

// ConnectionRepository stores bank connections with their access credential
// encrypted at rest.
type ConnectionRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

func NewConnectionRepository(db *DB, encryptor *crypto.Encryptor) *ConnectionRepository {
	return &ConnectionRepository{db: db, encryptor: encryptor}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Create inserts the connection and its accounts in one transaction.
func (r *ConnectionRepository) Create(ctx context.Context, conn *connection.Connection, accounts []*connection.Account) error {
	sealed, err := r.encryptor.Encrypt(conn.Credential.Reveal())
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO bank_connections (id, user_id, institution_id, institution_name, access_credential)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING linked_at`,
			conn.ID, conn.UserID, conn.InstitutionID, conn.InstitutionName, sealed,
		).Scan(&conn.LinkedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return connection.ErrAlreadyLinked
			}
			return fmt.Errorf("failed to insert connection: %w", err)
		}

		for _, a := range accounts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO bank_accounts (id, connection_id, user_id, name, official_name, type, subtype, mask)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE
					SET name = EXCLUDED.name,
					    official_name = EXCLUDED.official_name,
					    type = EXCLUDED.type,
					    subtype = EXCLUDED.subtype,
					    mask = EXCLUDED.mask`,
				a.ID, conn.ID, conn.UserID, a.Name, a.OfficialName, a.Type, a.Subtype, a.Mask,
			)
			if err != nil {
				return fmt.Errorf("failed to insert account %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (r *ConnectionRepository) scan(row interface{ Scan(...any) error }) (*connection.Connection, error) {
	var (
		conn   connection.Connection
		sealed string
	)
	if err := row.Scan(&conn.ID, &conn.UserID, &conn.InstitutionID, &conn.InstitutionName, &sealed, &conn.LinkedAt); err != nil {
		return nil, err
	}

	plain, err := r.encryptor.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential for %s: %w", conn.ID, err)
	}
	conn.Credential = connection.NewCredential(plain)
	return &conn, nil
}

func (r *ConnectionRepository) Get(ctx context.Context, userID, connectionID string) (*connection.Connection, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, institution_id, institution_name, access_credential, linked_at
		FROM bank_connections
		WHERE user_id = $1 AND id = $2`,
		userID, connectionID,
	)
	conn, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, institution_id, institution_name, access_credential, linked_at
		FROM bank_connections
		WHERE user_id = $1
		ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		conn, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// Delete removes the connection; its accounts go with it via ON DELETE CASCADE.
func (r *ConnectionRepository) Delete(ctx context.Context, userID, connectionID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bank_connections WHERE user_id = $1 AND id = $2`,
		userID, connectionID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return connection.ErrNotFound
	}
	return nil
}

func (r *ConnectionRepository) ListAccounts(ctx context.Context, userID string) ([]*connection.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, connection_id, name, official_name, type, subtype, mask
		FROM bank_accounts
		WHERE user_id = $1
		ORDER BY connection_id, name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*connection.Account
	for rows.Next() {
		var a connection.Account
		if err := rows.Scan(&a.ID, &a.ConnectionID, &a.Name, &a.OfficialName, &a.Type, &a.Subtype, &a.Mask); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}
