package dm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = "buildlink"

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", errors.New("dm: empty schema")
	}
	if !pgIdentRE.MatchString(schema) {
		return "", errors.New("dm: invalid schema identifier")
	}
	return schema, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// schemaStatements returns the DDL both Postgres stores depend on.
func schemaStatements(schema string) []string {
	cursors := pgIdent(schema, "dm_cursors")
	messages := pgIdent(schema, "dm_messages")
	profiles := pgIdent(schema, "profiles")

	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + cursors + ` (
			conversation_id text PRIMARY KEY,
			next_seq        bigint NOT NULL,
			updated_at      timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			conversation_id text NOT NULL,
			seq             bigint NOT NULL,
			id              text NOT NULL UNIQUE,
			client_msg_id   text NOT NULL,
			sender_id       text NOT NULL,
			recipient_id    text NOT NULL,
			content         text NOT NULL,
			created_at      timestamptz NOT NULL,
			read_at         timestamptz,
			PRIMARY KEY (conversation_id, seq),
			UNIQUE (conversation_id, sender_id, client_msg_id)
		)`,
		`CREATE INDEX IF NOT EXISTS dm_messages_unread_idx ON ` + messages + ` (recipient_id, sender_id) WHERE read_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS ` + profiles + ` (
			user_id      text PRIMARY KEY,
			display_name text NOT NULL,
			avatar_url   text NOT NULL DEFAULT '',
			updated_at   timestamptz NOT NULL DEFAULT now()
		)`,
	}
}

// EnsureSchema creates the schema and tables if they do not exist. It is idempotent.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("dm: nil pool")
	}
	schema, err := validSchema(schema)
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements(schema) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("dm: ensure schema: %w", err)
		}
	}
	return nil
}
