package store

import (
	"context"
	"encoding/json"

	"schedulr/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, photo_url, preferences)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.PasswordHash, u.Name, u.PhotoURL, prefs,
	)
	return mapErr(err)
}

const userColumns = `id, email, password_hash, name, photo_url, preferences, created_at, updated_at`

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) scanUser(ctx context.Context, q string, arg string) (*model.User, error) {
	u := &model.User{}
	var prefs []byte
	err := s.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.PhotoURL, &prefs, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Preferences = model.DefaultPreferences()
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// UpdateUser writes the mutable profile columns.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	prefs, err := json.Marshal(u.Preferences)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name=$2, email=$3, photo_url=$4, preferences=$5, updated_at=NOW()
		 WHERE id=$1`,
		u.ID, u.Name, u.Email, u.PhotoURL, prefs,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
