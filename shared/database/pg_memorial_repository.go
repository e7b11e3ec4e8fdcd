package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.MemorialRepository = (*pgMemorialRepository)(nil)

const memorialColumns = `
	id, owner_id, full_name, first_name, middle_name, last_name, birth_date, death_date,
	headline, opening_statement, obituary_html, life_story_html, additional_info,
	privacy, password_hash, slug, is_draft, is_published, draft_payload,
	created_at, updated_at, published_at`

type pgMemorialRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

// NewPgMemorialRepository создает репозиторий мемориалов поверх PostgreSQL.
func NewPgMemorialRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.MemorialRepository {
	return &pgMemorialRepository{
		db:     db,
		logger: logger.Named("PgMemorialRepo"),
	}
}

func (r *pgMemorialRepository) Create(ctx context.Context, rec *models.MemorialRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.IsPublished && rec.PublishedAt == nil {
		rec.PublishedAt = &now
	}

	query := `
        INSERT INTO memorials (` + memorialColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	logFields := []zap.Field{
		zap.String("memorialID", rec.ID.String()),
		zap.String("ownerID", rec.OwnerID.String()),
	}

	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.OwnerID, rec.FullName, rec.FirstName, rec.MiddleName, rec.LastName,
		rec.BirthDate, rec.DeathDate, rec.Headline, rec.OpeningStatement,
		rec.ObituaryHTML, rec.LifeStoryHTML, rec.AdditionalInfo,
		rec.Privacy, rec.PasswordHash, rec.Slug, rec.IsDraft, rec.IsPublished, rec.DraftPayload,
		rec.CreatedAt, rec.UpdatedAt, rec.PublishedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create memorial", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to create memorial: %w", err)
	}
	r.logger.Debug("Memorial created", logFields...)
	return nil
}

func (r *pgMemorialRepository) GetByID(ctx context.Context, id, ownerID uuid.UUID) (*models.MemorialRecord, error) {
	query := `SELECT ` + memorialColumns + ` FROM memorials WHERE id = $1`

	var rec models.MemorialRecord
	if err := pgxscan.Get(ctx, r.db, &rec, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get memorial", zap.String("memorialID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get memorial %s: %w", id, err)
	}
	if rec.OwnerID != ownerID {
		r.logger.Warn("Memorial requested by non-owner",
			zap.String("memorialID", id.String()),
			zap.String("requesterID", ownerID.String()),
		)
		return nil, models.ErrForbidden
	}
	return &rec, nil
}

// Update пишет все изменяемые колонки. Фильтр по owner_id обязателен:
// чужая запись дает ErrForbidden, а не тихий no-op.
func (r *pgMemorialRepository) Update(ctx context.Context, rec *models.MemorialRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	query := `
        UPDATE memorials SET
            full_name = $3, first_name = $4, middle_name = $5, last_name = $6,
            birth_date = $7, death_date = $8, headline = $9, opening_statement = $10,
            obituary_html = $11, life_story_html = $12, additional_info = $13,
            privacy = $14, password_hash = $15, is_draft = $16, is_published = $17,
            draft_payload = $18, updated_at = $19,
            published_at = CASE WHEN $17 THEN COALESCE(published_at, $19) ELSE published_at END
        WHERE id = $1 AND owner_id = $2`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.OwnerID, rec.FullName, rec.FirstName, rec.MiddleName, rec.LastName,
		rec.BirthDate, rec.DeathDate, rec.Headline, rec.OpeningStatement,
		rec.ObituaryHTML, rec.LifeStoryHTML, rec.AdditionalInfo,
		rec.Privacy, rec.PasswordHash, rec.IsDraft, rec.IsPublished,
		rec.DraftPayload, rec.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update memorial", zap.String("memorialID", rec.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to update memorial %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrForeign(ctx, rec.ID)
	}
	return nil
}

func (r *pgMemorialRepository) SetSlug(ctx context.Context, id, ownerID uuid.UUID, slug string) error {
	query := `UPDATE memorials SET slug = $3, updated_at = NOW() WHERE id = $1 AND owner_id = $2`
	tag, err := r.db.Exec(ctx, query, id, ownerID, slug)
	if err != nil {
		r.logger.Error("Failed to set memorial slug",
			zap.String("memorialID", id.String()), zap.String("slug", slug), zap.Error(err))
		return fmt.Errorf("failed to set slug for memorial %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrForeign(ctx, id)
	}
	return nil
}

func (r *pgMemorialRepository) GenerateUniqueSlug(ctx context.Context, displayName string) (string, error) {
	var slug string
	if err := r.db.QueryRow(ctx, `SELECT generate_unique_slug($1)`, displayName).Scan(&slug); err != nil {
		r.logger.Error("Failed to generate slug", zap.String("displayName", displayName), zap.Error(err))
		return "", fmt.Errorf("failed to generate slug: %w", err)
	}
	return slug, nil
}

// missOrForeign различает отсутствующую запись и чужую.
func (r *pgMemorialRepository) missOrForeign(ctx context.Context, id uuid.UUID) error {
	var owner uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT owner_id FROM memorials WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check memorial owner: %w", err)
	}
	r.logger.Warn("Write to memorial rejected: not the owner", zap.String("memorialID", id.String()))
	return models.ErrForbidden
}

// lockOwnedMemorial блокирует строку мемориала внутри транзакции и проверяет владельца.
func lockOwnedMemorial(ctx context.Context, tx pgx.Tx, memorialID, ownerID uuid.UUID) error {
	var owner uuid.UUID
	err := tx.QueryRow(ctx, `SELECT owner_id FROM memorials WHERE id = $1 FOR UPDATE`, memorialID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock memorial: %w", err)
	}
	if owner != ownerID {
		return models.ErrForbidden
	}
	return nil
}
