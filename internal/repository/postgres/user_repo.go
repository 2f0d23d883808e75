package postgres

import (
	"context"
	"database/sql"
	"errors"

	"eventpayments/internal/domain"
)

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) domain.UserRepository {
	return &userRepository{DB: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT id, email, full_name
		FROM profiles
		WHERE id = $1
	`
	u := &domain.User{}
	var fullName sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &fullName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u.FullName = fullName.String
	return u, nil
}
