// Package authlist answers "may this identity send this command to this
// component right now". Entries live in Postgres (storage is owned by the
// operator-facing management service; only the query contract lives here)
// and are cached in memory, with cache invalidation signalled over Redis.
package authlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// AnyIndex in an entry's salindex column matches every instance of the
// component type.
const AnyIndex = -1

// Wildcard in an authorized list matches any identity.
const Wildcard = "*"

// Entry is one authorization rule. Identities are either operator users
// ("user@host") or commanding components ("Name:index").
type Entry struct {
	Command         string
	CSC             string
	SalIndex        int
	AuthorizedUsers []string
	AuthorizedCSCs  []string
	// RequiredState restricts the command to components currently in the
	// given summary state. Nil means no restriction.
	RequiredState *int
}

// Repository reads authlist entries from Postgres.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository creates the authlist repository.
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ListEntries returns every authlist entry. The authorized_users and
// authorized_cscs columns are JSONB arrays of identity strings.
func (r *Repository) ListEntries(ctx context.Context) ([]Entry, error) {
	query := `
		SELECT
			command_name,
			csc,
			salindex,
			authorized_users,
			authorized_cscs,
			required_state
		FROM authlist_entries
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query authlist entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry         Entry
			usersJSON     string
			cscsJSON      string
			requiredState sql.NullInt64
		)
		if err := rows.Scan(
			&entry.Command,
			&entry.CSC,
			&entry.SalIndex,
			&usersJSON,
			&cscsJSON,
			&requiredState,
		); err != nil {
			return nil, fmt.Errorf("failed to scan authlist entry: %w", err)
		}

		if err := json.Unmarshal([]byte(usersJSON), &entry.AuthorizedUsers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authorized_users: %w", err)
		}
		if err := json.Unmarshal([]byte(cscsJSON), &entry.AuthorizedCSCs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authorized_cscs: %w", err)
		}
		if requiredState.Valid {
			state := int(requiredState.Int64)
			entry.RequiredState = &state
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate authlist entries: %w", err)
	}

	return entries, nil
}
