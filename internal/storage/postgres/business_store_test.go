package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/crashlens/leadcrawler/internal/leads"
)

func newTestStore(t *testing.T) (*BusinessStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewBusinessStoreWithPool(mock, "businesses")
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return store, mock
}

func sampleRecord() leads.BusinessRecord {
	return leads.BusinessRecord{
		Name:          "Hill Country Coffee",
		Category:      "Coffee shop",
		Address:       "401 Congress Ave, Austin",
		Rating:        4.6,
		ReviewCount:   1234,
		SourceURL:     "https://maps.example.com/place/1",
		LocationLabel: "Austin, TX",
		Phone:         "+15125550123",
		Website:       "https://hillcountry.example.com",
		Services:      []string{"Dine-in", "Takeout"},
	}
}

func TestUpsert_InsertsNewRow(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	rec := sampleRecord()

	mock.ExpectQuery("INSERT INTO businesses").
		WithArgs(
			rec.SourceURL,
			rec.Name,
			rec.Category,
			rec.Address,
			rec.Rating,
			rec.ReviewCount,
			rec.SourceURL,
			rec.LocationLabel,
			rec.Phone,
			rec.Website,
			rec.Hours,
			[]byte(`["Dine-in","Takeout"]`),
			time.Unix(1700000000, 0).UTC(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	outcome, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, leads.UpsertInserted, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_UpdatesExistingRow(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO businesses").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))

	outcome, err := store.Upsert(context.Background(), sampleRecord())
	require.NoError(t, err)
	require.Equal(t, leads.UpsertUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_DuplicateRaceFallsBackToUpdate(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO businesses").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	mock.ExpectExec("UPDATE businesses").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	outcome, err := store.Upsert(context.Background(), sampleRecord())
	require.NoError(t, err)
	require.Equal(t, leads.UpsertUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_NoIdentityIsDropped(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	outcome, err := store.Upsert(context.Background(), leads.BusinessRecord{Name: "nameless"})
	require.ErrorIs(t, err, leads.ErrNoIdentity)
	require.Equal(t, leads.UpsertDropped, outcome)
}

func TestUpsert_PhoneIdentityFallback(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	rec := leads.BusinessRecord{Name: "No URL", Phone: "+15125550123"}

	mock.ExpectQuery("INSERT INTO businesses").
		WithArgs(
			rec.Phone,
			rec.Name,
			"", "", 0.0, 0, "", "", rec.Phone, "", "",
			[]byte(`[]`),
			time.Unix(1700000000, 0).UTC(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))

	outcome, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, leads.UpsertInserted, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdentity_Found(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT name, category, address").
		WithArgs("https://maps.example.com/place/1").
		WillReturnRows(pgxmock.NewRows([]string{
			"name", "category", "address", "rating", "review_count", "source_url",
			"location_label", "phone", "website", "hours", "services", "created_at", "updated_at",
		}).AddRow(
			"Hill Country Coffee", "Coffee shop", "401 Congress Ave, Austin", 4.6, 1234,
			"https://maps.example.com/place/1", "Austin, TX", "+15125550123",
			"https://hillcountry.example.com", "", []byte(`["Dine-in"]`), now, now,
		))

	record, found, err := store.FindByIdentity(context.Background(), "https://maps.example.com/place/1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Hill Country Coffee", record.Name)
	require.Equal(t, []string{"Dine-in"}, record.Services)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdentity_Missing(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT name, category, address").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.FindByIdentity(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_PagesResults(t *testing.T) {
	t.Parallel()

	store, mock := newTestStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT name, category, address").
		WithArgs(2, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"name", "category", "address", "rating", "review_count", "source_url",
			"location_label", "phone", "website", "hours", "services", "created_at", "updated_at",
		}).
			AddRow("A", "", "", 0.0, 0, "u1", "", "", "", "", []byte(`[]`), now, now).
			AddRow("B", "", "", 0.0, 0, "u2", "", "", "", "", []byte(`[]`), now, now))

	records, err := store.List(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "A", records[0].Name)
	require.Nil(t, records[0].Services)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewBusinessStoreWithPool_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewBusinessStoreWithPool(nil, "businesses")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewBusinessStoreWithPool(mock, "bad;table")
	require.Error(t, err)
}
