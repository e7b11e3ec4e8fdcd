package database

import (
	"context"
	"fmt"

	"memorial-server/shared/interfaces"
	"memorial-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.MomentRepository = (*pgMomentRepository)(nil)

type pgMomentRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgMomentRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.MomentRepository {
	return &pgMomentRepository{
		db:     db,
		logger: logger.Named("PgMomentRepo"),
	}
}

func (r *pgMomentRepository) ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.MomentRecord, error) {
	query := `
        SELECT id, memorial_id, sequence, media_type, url, thumbnail_url, public_id,
               caption, date_taken, file_name
        FROM memorial_moments
        WHERE memorial_id = $1
        ORDER BY sequence`
	moments := make([]models.MomentRecord, 0)
	if err := pgxscan.Select(ctx, r.db, &moments, query, memorialID); err != nil {
		return nil, fmt.Errorf("failed to list moments of memorial %s: %w", memorialID, err)
	}
	return moments, nil
}

func (r *pgMomentRepository) Replace(ctx context.Context, memorialID, ownerID uuid.UUID, moments []models.MomentRecord) error {
	log := r.logger.With(zap.String("memorialID", memorialID.String()), zap.Int("count", len(moments)))
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockOwnedMemorial(ctx, tx, memorialID, ownerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM memorial_moments WHERE memorial_id = $1`, memorialID); err != nil {
			return fmt.Errorf("failed to delete moments: %w", err)
		}
		if len(moments) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(moments))
		for i, m := range moments {
			if m.ID == uuid.Nil {
				m.ID = uuid.New()
			}
			rows = append(rows, []any{
				m.ID, memorialID, i, string(m.Type), m.URL, m.ThumbnailURL, m.PublicID,
				m.Caption, m.DateTaken, m.FileName,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"memorial_moments"},
			[]string{"id", "memorial_id", "sequence", "media_type", "url", "thumbnail_url", "public_id",
				"caption", "date_taken", "file_name"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert moments: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to replace memorial moments", zap.Error(err))
		return err
	}
	log.Debug("Memorial moments replaced")
	return nil
}

// OwnerOfAsset ищет владельца мемориала, который ссылается на publicID
// в опубликованных моментах или в сохраненном черновике.
func (r *pgMomentRepository) OwnerOfAsset(ctx context.Context, publicID string) (uuid.UUID, error) {
	query := `
        SELECT m.owner_id
        FROM memorial_moments mm
        JOIN memorials m ON m.id = mm.memorial_id
        WHERE mm.public_id = $1
        UNION
        SELECT m.owner_id
        FROM memorials m
        WHERE m.draft_payload IS NOT NULL
          AND EXISTS (
              SELECT 1 FROM jsonb_array_elements(m.draft_payload -> 'moments') AS e
              WHERE e ->> 'remotePublicId' = $1
          )
        LIMIT 1`
	var owner uuid.UUID
	if err := pgxscan.Get(ctx, r.db, &owner, query, publicID); err != nil {
		if pgxscan.NotFound(err) {
			return uuid.Nil, models.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve asset owner: %w", err)
	}
	return owner, nil
}
