package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"screentime-backend/internal/model"
)

// ErrUserNotFound is returned when a user does not exist.
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles user account persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create creates a new user with a zero coin balance.
func (r *UserRepository) Create(ctx context.Context, userID int64, username string) (*model.User, error) {
	const query = `
		INSERT INTO users (user_id, username, coins, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		RETURNING user_id, username, coins, created_at, updated_at
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID, username).Scan(
		&user.ID, &user.Username, &user.Coins, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &user, nil
}

// GetByID retrieves a user.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	const query = `
		SELECT user_id, username, coins, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Username, &user.Coins, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// Credit adds coins to a user's balance. The amount may be negative for
// adjustments. Returns the updated user.
func (r *UserRepository) Credit(ctx context.Context, userID int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET coins = coins + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING user_id, username, coins, created_at, updated_at
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(
		&user.ID, &user.Username, &user.Coins, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to credit user: %w", err)
	}

	return &user, nil
}

// Exists checks if a user exists.
func (r *UserRepository) Exists(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// UsernamesByIDs resolves usernames for a set of user IDs. Unknown IDs
// are simply absent from the result.
func (r *UserRepository) UsernamesByIDs(ctx context.Context, userIDs []int64) (map[int64]string, error) {
	const query = `SELECT user_id, username FROM users WHERE user_id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get usernames: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string, len(userIDs))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan username: %w", err)
		}
		names[id] = name
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usernames: %w", err)
	}

	return names, nil
}
