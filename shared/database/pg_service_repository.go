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

var _ interfaces.ServiceRepository = (*pgServiceRepository)(nil)

type pgServiceRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgServiceRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.ServiceRepository {
	return &pgServiceRepository{
		db:     db,
		logger: logger.Named("PgServiceRepo"),
	}
}

func (r *pgServiceRepository) ListByMemorial(ctx context.Context, memorialID uuid.UUID) ([]models.ServiceRecord, error) {
	query := `
        SELECT id, memorial_id, sequence, service_type, service_date, service_time,
               location_name, address, additional_info, is_virtual, virtual_url
        FROM memorial_services
        WHERE memorial_id = $1
        ORDER BY sequence`
	services := make([]models.ServiceRecord, 0)
	if err := pgxscan.Select(ctx, r.db, &services, query, memorialID); err != nil {
		return nil, fmt.Errorf("failed to list services of memorial %s: %w", memorialID, err)
	}
	return services, nil
}

// Replace удаляет и вставляет сервисы одной транзакцией после проверки владельца.
func (r *pgServiceRepository) Replace(ctx context.Context, memorialID, ownerID uuid.UUID, services []models.ServiceRecord) error {
	log := r.logger.With(zap.String("memorialID", memorialID.String()), zap.Int("count", len(services)))
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockOwnedMemorial(ctx, tx, memorialID, ownerID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM memorial_services WHERE memorial_id = $1`, memorialID); err != nil {
			return fmt.Errorf("failed to delete services: %w", err)
		}
		if len(services) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(services))
		for i, s := range services {
			if s.ID == uuid.Nil {
				s.ID = uuid.New()
			}
			rows = append(rows, []any{
				s.ID, memorialID, i, string(s.Type), s.ServiceDate, s.ServiceTime,
				s.LocationName, s.Address, s.AdditionalInfo, s.IsVirtual, s.VirtualURL,
			})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"memorial_services"},
			[]string{"id", "memorial_id", "sequence", "service_type", "service_date", "service_time",
				"location_name", "address", "additional_info", "is_virtual", "virtual_url"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to insert services: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to replace memorial services", zap.Error(err))
		return err
	}
	log.Debug("Memorial services replaced")
	return nil
}
