package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

func TestRecordImageInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog, err := NewCatalogStore(mock, "")
	require.NoError(t, err)

	captured := time.Unix(1690000000, 0).UTC()
	rec := harvest.OutputRecord{
		ID:         7,
		ObjectID:   "12",
		PanoID:     "1298_42_1690000000",
		RoadName:   "Abay Avenue",
		Lat:        43.25,
		Lon:        76.9,
		Year:       2023,
		View:       "front",
		FilePath:   "out/2023/2023_00007_Abay_Avenue_front.jpg",
		CapturedAt: captured,
	}

	mock.ExpectExec("INSERT INTO harvest_images").
		WithArgs(2023, 7, "12", rec.PanoID, "Abay Avenue", 43.25, 76.9, "front", rec.FilePath, captured).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, catalog.RecordImage(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordImageNullCaptureTime(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	catalog, err := NewCatalogStore(mock, "images_2023")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO images_2023").
		WithArgs(2023, 1, "", "p", "r", 0.0, 0.0, "", "f.jpg", nil).
		WillReturnError(errors.New("connection reset"))

	err = catalog.RecordImage(context.Background(), harvest.OutputRecord{ID: 1, Year: 2023, PanoID: "p", RoadName: "r", FilePath: "f.jpg"})
	require.ErrorContains(t, err, "insert catalog row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCatalogStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewCatalogStore(mock, "images; DROP TABLE x")
	require.Error(t, err)

	catalog, err := NewCatalogStore(mock, "")
	require.NoError(t, err)
	require.Error(t, catalog.RecordImage(context.Background(), harvest.OutputRecord{}))
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS harvest_runs")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPoolRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewPool(context.Background(), PoolConfig{})
	require.Error(t, err)
}
