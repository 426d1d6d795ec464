package adapters

import (
	"context"
	"errors"
	"strings"

	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryRepository reads customers and agents for call party resolution.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

// FindCustomerByPhone compares the last ten digits of the primary and
// alternate numbers. Shared numbers are not disambiguated: the oldest
// customer wins.
func (r *DirectoryRepository) FindCustomerByPhone(ctx context.Context, tenantID uuid.UUID, number string) (*ports.Customer, error) {
	key := phone.MatchKey(number)
	if len(key) < 10 {
		return nil, nil
	}

	var c ports.Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name
		FROM customers
		WHERE tenant_id = $1
		  AND (right(regexp_replace(primary_phone, '\D', '', 'g'), 10) = $2
		    OR right(regexp_replace(alternate_phone, '\D', '', 'g'), 10) = $2)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, tenantID, key).Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *DirectoryRepository) FindAgentByExtension(ctx context.Context, tenantID uuid.UUID, extension string) (*ports.Agent, error) {
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return nil, nil
	}

	var a ports.Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, extension
		FROM agents
		WHERE tenant_id = $1 AND extension = $2 AND is_active
	`, tenantID, extension).Scan(&a.ID, &a.Name, &a.Extension)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *DirectoryRepository) ListAgents(ctx context.Context, tenantID uuid.UUID) ([]ports.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, extension
		FROM agents
		WHERE tenant_id = $1 AND is_active AND extension <> ''
		ORDER BY extension ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[ports.Agent])
}

// Compile-time check that DirectoryRepository implements ports.Directory
var _ ports.Directory = (*DirectoryRepository)(nil)
