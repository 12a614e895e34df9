package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upsertMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "facilities",
		Columns:      []string{"installation_id", "name"},
		ConflictKeys: []string{"installation_id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "facilities",
		ConflictKeys: []string{"installation_id"},
	}, [][]any{{"I-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "facilities",
		Columns: []string{"installation_id", "name"},
	}, [][]any{{"I-1", "CPE Soleil"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock := upsertMock(t)

	cols := []string{"installation_id", "name", "price"}
	rows := [][]any{
		{"I-1", "CPE Soleil", "9.35$/jour"},
		{"I-2", "Garderie du Parc", "45.00$/jour"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_facilities" \(LIKE "facilities" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_facilities"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "facilities" \("installation_id", "name", "price"\) SELECT .+ FROM "_tmp_upsert_facilities" ON CONFLICT \("installation_id"\) DO UPDATE SET "name" = EXCLUDED\."name", "price" = EXCLUDED\."price"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "facilities",
		Columns:      cols,
		ConflictKeys: []string{"installation_id"},
	}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_ExplicitUpdateCols(t *testing.T) {
	mock := upsertMock(t)

	cols := []string{"installation_id", "name", "price"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_facilities"}, cols).WillReturnResult(1)
	mock.ExpectExec(`DO UPDATE SET "price" = EXCLUDED\."price"$`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "facilities",
		Columns:      cols,
		ConflictKeys: []string{"installation_id"},
		UpdateCols:   []string{"price"},
	}, [][]any{{"I-1", "CPE Soleil", "9.35$/jour"}})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock := upsertMock(t)

	cols := []string{"installation_id", "name"}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_facilities"}, cols).WillReturnError(fmt.Errorf("copy failed"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "facilities",
		Columns:      cols,
		ConflictKeys: []string{"installation_id"},
	}, [][]any{{"I-1", "CPE Soleil"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"facilities"`, sanitizeTable("facilities"))
	assert.Equal(t, `"garde"."facilities"`, sanitizeTable("garde.facilities"))
}
