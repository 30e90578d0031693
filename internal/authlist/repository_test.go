package authlist

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockAuthlistDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Repository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestListEntries_Success(t *testing.T) {
	db, mock, repo := setupMockAuthlistDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"command_name", "csc", "salindex", "authorized_users", "authorized_cscs", "required_state",
	}).AddRow(
		"setLogLevel", "ATDome", 1, `["operator@love01"]`, `[]`, nil,
	).AddRow(
		"moveAzimuth", "ATDome", -1, `["*"]`, `["ScriptQueue:1"]`, 2,
	)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	entries, err := repo.ListEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "setLogLevel", entries[0].Command)
	assert.Equal(t, "ATDome", entries[0].CSC)
	assert.Equal(t, 1, entries[0].SalIndex)
	assert.Equal(t, []string{"operator@love01"}, entries[0].AuthorizedUsers)
	assert.Empty(t, entries[0].AuthorizedCSCs)
	assert.Nil(t, entries[0].RequiredState)

	assert.Equal(t, AnyIndex, entries[1].SalIndex)
	assert.Equal(t, []string{"*"}, entries[1].AuthorizedUsers)
	assert.Equal(t, []string{"ScriptQueue:1"}, entries[1].AuthorizedCSCs)
	require.NotNil(t, entries[1].RequiredState)
	assert.Equal(t, 2, *entries[1].RequiredState)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntries_Empty(t *testing.T) {
	db, mock, repo := setupMockAuthlistDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{
		"command_name", "csc", "salindex", "authorized_users", "authorized_cscs", "required_state",
	}))

	entries, err := repo.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListEntries_QueryError(t *testing.T) {
	db, mock, repo := setupMockAuthlistDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrConnDone)

	_, err := repo.ListEntries(context.Background())
	assert.Error(t, err)
}

func TestListEntries_MalformedUsersColumn(t *testing.T) {
	db, mock, repo := setupMockAuthlistDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"command_name", "csc", "salindex", "authorized_users", "authorized_cscs", "required_state",
	}).AddRow("park", "ATDome", 0, `not-json`, `[]`, nil)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	_, err := repo.ListEntries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorized_users")
}
