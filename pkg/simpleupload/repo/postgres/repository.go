package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleupload.Repository using PostgreSQL. Attribute
// values are kept in a JSONB column.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies the bundled schema files in name order. The statements are
// idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		stmt, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.db.Exec(ctx, string(stmt)); err != nil {
			return r.handlePostgresError("migrate "+name, err)
		}
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("record already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return simpleupload.ErrRecordNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Insert(ctx context.Context, entity *simpleupload.Entity) error {
	attrs, err := json.Marshal(entity.Attributes())
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	query := `
		INSERT INTO upload_record (id, kind, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query, entity.ID, entity.Kind, attrs, entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("insert record", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*simpleupload.Entity, error) {
	query := `
		SELECT id, kind, attributes, created_at, updated_at
		FROM upload_record WHERE id = $1 AND deleted_at IS NULL`

	entity, err := scanEntity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get record", err)
	}
	return entity, nil
}

func (r *Repository) Update(ctx context.Context, entity *simpleupload.Entity) error {
	attrs, err := json.Marshal(entity.Attributes())
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	query := `
		UPDATE upload_record SET attributes = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, entity.ID, attrs, entity.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update record", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleupload.ErrRecordNotFound
	}
	return nil
}

// Delete soft-deletes the record
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE upload_record SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return r.handlePostgresError("delete record", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleupload.ErrRecordNotFound
	}
	return nil
}

// List returns the live records of kind, oldest first. An empty kind lists
// every record.
func (r *Repository) List(ctx context.Context, kind string) ([]*simpleupload.Entity, error) {
	query := `
		SELECT id, kind, attributes, created_at, updated_at
		FROM upload_record
		WHERE deleted_at IS NULL AND ($1 = '' OR kind = $1)
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, kind)
	if err != nil {
		return nil, r.handlePostgresError("list records", err)
	}
	defer rows.Close()

	var out []*simpleupload.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, r.handlePostgresError("list records", err)
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list records", err)
	}
	return out, nil
}

func scanEntity(row pgx.Row) (*simpleupload.Entity, error) {
	var (
		id                   uuid.UUID
		kind                 string
		raw                  []byte
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &kind, &raw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	values := make(map[string]string)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("decode attributes of %s: %w", id, err)
		}
	}
	return simpleupload.LoadEntity(id, kind, values, createdAt.UTC(), updatedAt.UTC()), nil
}
