package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/mkrogh/garnscope/pkg/domain"
)

// YarnRepository handles yarn-related database operations
type YarnRepository struct {
	db *sqlx.DB
}

// yarnSQL represents a yarn for SQL operations. List-valued columns are
// stored as JSON text.
type yarnSQL struct {
	ID               int64      `db:"id"`
	Name             string     `db:"name"`
	YarnType         string     `db:"yarn_type"`
	Description      *string    `db:"description"`
	ImageURL         *string    `db:"image_url"`
	Tension          *int       `db:"tension"`
	SkeinLength      *int       `db:"skein_length"`
	SearchQuery      *string    `db:"search_query"`
	SearchFields     string     `db:"search_fields"`
	NegativeKeywords string     `db:"negative_keywords"`
	MainYarnID       *int64     `db:"main_yarn_id"`
	CarryAlongYarnID *int64     `db:"carry_along_yarn_id"`
	LowestPrice      *float64   `db:"lowest_price"`
	PricePerMeter    *float64   `db:"price_per_meter"`
	IsActive         bool       `db:"is_active"`
	ActiveSince      *time.Time `db:"active_since"`
	InactiveSince    *time.Time `db:"inactive_since"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// NewYarnRepository creates a new yarn repository
func NewYarnRepository(database *sqlx.DB) *YarnRepository {
	return &YarnRepository{db: database}
}

// CreateYarn inserts a new yarn and sets its ID
func (r *YarnRepository) CreateYarn(ctx context.Context, yarn *domain.Yarn) error {
	if yarn.Type == "" {
		yarn.Type = domain.YarnTypeSingle
	}

	query := `
		INSERT INTO yarns (name, yarn_type, description, image_url, tension, skein_length,
			search_query, search_fields, negative_keywords, main_yarn_id, carry_along_yarn_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		yarn.Name, string(yarn.Type), yarn.Description, yarn.ImageURL, yarn.Tension, yarn.SkeinLength,
		yarn.SearchQuery, stringsSQL(yarn.SearchFields), stringsSQL(yarn.NegativeKeywords),
		yarn.MainYarnID, yarn.CarryAlongYarnID)
	if err != nil {
		return fmt.Errorf("create yarn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}
	yarn.ID = id
	return nil
}

// GetYarn retrieves a yarn by ID
func (r *YarnRepository) GetYarn(ctx context.Context, id int64) (*domain.Yarn, error) {
	var sqlYarn yarnSQL
	err := r.db.GetContext(ctx, &sqlYarn, "SELECT * FROM yarns WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get yarn: %w", err)
	}
	return r.toDomainYarn(&sqlYarn), nil
}

// GetYarns retrieves yarns, optionally restricted to active ones, ordered by
// name
func (r *YarnRepository) GetYarns(ctx context.Context, activeOnly bool) ([]*domain.Yarn, error) {
	query := "SELECT * FROM yarns"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	var sqlYarns []yarnSQL
	if err := r.db.SelectContext(ctx, &sqlYarns, query); err != nil {
		return nil, fmt.Errorf("get yarns: %w", err)
	}

	yarns := make([]*domain.Yarn, len(sqlYarns))
	for i, sy := range sqlYarns {
		yarns[i] = r.toDomainYarn(&sy)
	}
	return yarns, nil
}

// GetYarnsByType retrieves yarns of one type ordered by id
func (r *YarnRepository) GetYarnsByType(ctx context.Context, yarnType domain.YarnType) ([]*domain.Yarn, error) {
	var sqlYarns []yarnSQL
	err := r.db.SelectContext(ctx, &sqlYarns, "SELECT * FROM yarns WHERE yarn_type = ? ORDER BY id", string(yarnType))
	if err != nil {
		return nil, fmt.Errorf("get yarns by type: %w", err)
	}

	yarns := make([]*domain.Yarn, len(sqlYarns))
	for i, sy := range sqlYarns {
		yarns[i] = r.toDomainYarn(&sy)
	}
	return yarns, nil
}

// UpdateYarn updates a yarn's catalog fields. Derived pricing and activity
// fields are owned by the pipeline and left untouched.
func (r *YarnRepository) UpdateYarn(ctx context.Context, yarn *domain.Yarn) error {
	query := `
		UPDATE yarns
		SET name = ?, yarn_type = ?, description = ?, image_url = ?, tension = ?,
		    skein_length = ?, search_query = ?, search_fields = ?, negative_keywords = ?,
		    main_yarn_id = ?, carry_along_yarn_id = ?, updated_at = datetime('now')
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		yarn.Name, string(yarn.Type), yarn.Description, yarn.ImageURL, yarn.Tension,
		yarn.SkeinLength, yarn.SearchQuery, stringsSQL(yarn.SearchFields), stringsSQL(yarn.NegativeKeywords),
		yarn.MainYarnID, yarn.CarryAlongYarnID, yarn.ID)
	if err != nil {
		return fmt.Errorf("update yarn: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("yarn %d not found", yarn.ID)
	}
	return nil
}

// DeleteYarn removes a yarn and its offers
func (r *YarnRepository) DeleteYarn(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM yarns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete yarn: %w", err)
	}
	return nil
}

// UpdateYarnDerived stores a single yarn's recomputed pricing and activity.
// active_since is set once, on the first transition to active, and never
// cleared afterwards; inactive_since is refreshed on every run the yarn ends
// up inactive.
func (r *YarnRepository) UpdateYarnDerived(ctx context.Context, yarnID int64, lowestPrice, pricePerMeter *float64, active bool) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE yarns
			SET lowest_price = ?,
			    price_per_meter = ?,
			    is_active = ?,
			    active_since = CASE WHEN ? AND active_since IS NULL THEN datetime('now') ELSE active_since END,
			    inactive_since = CASE WHEN ? THEN inactive_since ELSE datetime('now') END,
			    updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, lowestPrice, pricePerMeter, active, active, active, yarnID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update yarn derived: %w", err)}
		}
		return nil
	})
}

// UpdateDoubleYarnDerived stores a double yarn's recomputed combined price
// and activity. Doubles have no per-meter price because the two components
// run at different lengths.
func (r *YarnRepository) UpdateDoubleYarnDerived(ctx context.Context, yarnID int64, lowestPrice *float64, active bool) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE yarns
			SET lowest_price = ?,
			    is_active = ?,
			    active_since = CASE WHEN ? AND active_since IS NULL THEN datetime('now') ELSE active_since END,
			    inactive_since = CASE WHEN ? THEN inactive_since ELSE datetime('now') END,
			    updated_at = datetime('now')
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, lowestPrice, active, active, active, yarnID)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update double yarn derived: %w", err)}
		}
		return nil
	})
}

// stringsSQL serializes a string list for storage, empty list for nil
func stringsSQL(vals []string) string {
	if vals == nil {
		vals = []string{}
	}
	data, err := json.Marshal(vals)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// stringsFromSQL deserializes a stored string list
func stringsFromSQL(raw string) []string {
	if raw == "" {
		return nil
	}
	var vals []string
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil
	}
	if len(vals) == 0 {
		return nil
	}
	return vals
}

// toDomainYarn converts yarnSQL to domain.Yarn
func (r *YarnRepository) toDomainYarn(sy *yarnSQL) *domain.Yarn {
	return &domain.Yarn{
		ID:               sy.ID,
		Name:             sy.Name,
		Type:             domain.YarnType(sy.YarnType),
		Description:      sy.Description,
		ImageURL:         sy.ImageURL,
		Tension:          sy.Tension,
		SkeinLength:      sy.SkeinLength,
		SearchQuery:      sy.SearchQuery,
		SearchFields:     stringsFromSQL(sy.SearchFields),
		NegativeKeywords: stringsFromSQL(sy.NegativeKeywords),
		MainYarnID:       sy.MainYarnID,
		CarryAlongYarnID: sy.CarryAlongYarnID,
		LowestPrice:      sy.LowestPrice,
		PricePerMeter:    sy.PricePerMeter,
		IsActive:         sy.IsActive,
		ActiveSince:      sy.ActiveSince,
		InactiveSince:    sy.InactiveSince,
		CreatedAt:        sy.CreatedAt,
		UpdatedAt:        sy.UpdatedAt,
	}
}
