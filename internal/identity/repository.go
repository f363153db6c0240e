package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository persists users. Create must reject a case-insensitive name clash
// with ErrDuplicateUser atomically.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByName(ctx context.Context, name string) (User, error)
	// List returns users in creation order.
	List(ctx context.Context) ([]User, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, name, name_key, credential_hash, role, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, userID, user.Name, nameKey(user.Name), user.CredentialHash, string(user.Role), user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUser
	}
	return err
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT id, name, credential_hash, role, created_at FROM users WHERE id = $1`, userID))
}

// FindByName fetches a user by case-insensitive name.
func (r *PostgresRepository) FindByName(ctx context.Context, name string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT id, name, credential_hash, role, created_at FROM users WHERE name_key = $1`, nameKey(name)))
}

// List returns all users ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, credential_hash, role, created_at FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		role      string
		createdAt time.Time
		user      User
	)
	if err := row.Scan(&id, &user.Name, &user.CredentialHash, &role, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.Role = Role(role)
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

// NameResolver resolves display names straight from a Repository, so a ledger
// engine can be built before the Service that depends on it.
type NameResolver struct {
	repo Repository
}

// NewNameResolver wraps repo.
func NewNameResolver(repo Repository) NameResolver {
	return NameResolver{repo: repo}
}

// DisplayName returns the user's name.
func (n NameResolver) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := n.repo.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}
