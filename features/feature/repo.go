package feature

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const featureColumns = `id, organization_id, name, COALESCE(description, ''), status, created_by, COALESCE(updated_by, ''), deleted_at, COALESCE(deleted_by, ''), created_at, updated_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeature(row scanner) (*Feature, error) {
	f := &Feature{}
	var deletedAt sql.NullTime
	var status string
	err := row.Scan(&f.ID, &f.OrganizationID, &f.Name, &f.Description, &status, &f.CreatedBy, &f.UpdatedBy, &deletedAt, &f.DeletedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Status = Status(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return f, nil
}

func (r *PostgresRepo) FindByIDAndOrg(ctx context.Context, id, organizationID string, opts LookupOptions) (*Feature, error) {
	query := `SELECT ` + featureColumns + ` FROM features WHERE id = $1 AND organization_id = $2`
	if !opts.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	f, err := scanFeature(r.db.QueryRowContext(ctx, query, id, organizationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find feature %s: %w", id, err)
	}
	return f, nil
}

func (r *PostgresRepo) Update(ctx context.Context, id, organizationID string, fields Fields) error {
	if fields.Empty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Name != nil {
		set("name", *fields.Name)
	}
	if fields.Description != nil {
		set("description", *fields.Description)
	}
	if fields.Status != nil {
		set("status", string(*fields.Status))
	}
	if fields.UpdatedBy != nil {
		set("updated_by", *fields.UpdatedBy)
	}
	if fields.DeletedAt != nil {
		set("deleted_at", *fields.DeletedAt)
	}
	if fields.DeletedBy != nil {
		set("deleted_by", *fields.DeletedBy)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id, organizationID)

	query := fmt.Sprintf(`UPDATE features SET %s WHERE id = $%d AND organization_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update feature %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update feature %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CreateAuditEntry(ctx context.Context, entry AuditEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	query := `INSERT INTO audit_logs (organization_id, user_id, action, resource_type, resource_id, metadata) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query, entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, metadata)
	if err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Create(ctx context.Context, f *Feature) error {
	query := `INSERT INTO features (organization_id, name, description, status, created_by, updated_by) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, f.OrganizationID, f.Name, f.Description, string(f.Status), f.CreatedBy, f.UpdatedBy).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, organizationID string, q Query) ([]Feature, int, error) {
	where := []string{"organization_id = $1", "deleted_at IS NULL"}
	args := []any{organizationID}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count features: %w", err)
	}

	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	query := fmt.Sprintf(`SELECT %s FROM features WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		featureColumns, clause, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, 0, err
		}
		features = append(features, *f)
	}
	return features, total, rows.Err()
}
