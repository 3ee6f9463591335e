package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// UserRepository defines persistence access for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO users (id, name, email, password_hash, role, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		user.ID,
		user.Name,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.Role,
		user.Status,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.fetch(ctx, `WHERE id=$1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.fetch(ctx, `WHERE email=$1`, strings.ToLower(email))
}

func (r *userRepository) fetch(ctx context.Context, where string, arg string) (*domain.User, error) {
	query := `SELECT id, name, email, password_hash, role, status, created_at, updated_at FROM users ` + where

	var user domain.User
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, notFound(err, "user", arg)
	}
	return &user, nil
}

// MemoryUserRepository is the in-process counterpart of the Postgres repository.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemoryUserRepository builds an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]domain.User)}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = strings.ToLower(user.Email)
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return apperrors.NewConflict("email already registered", nil)
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	return &user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.ToLower(email)
	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, apperrors.ErrNotFound)
}
