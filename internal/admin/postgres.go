package admin

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Find(ctx context.Context, id string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, active, created_at from admins where id=$1`, id)
	return scanAdmin(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*Admin, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, name, password_hash, active, created_at from admins where email=$1`, email)
	return scanAdmin(row)
}

func scanAdmin(row *sql.Row) (*Admin, error) {
	var adm Admin
	if err := row.Scan(&adm.ID, &adm.Email, &adm.Name, &adm.PasswordHash, &adm.Active, &adm.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &adm, nil
}
