package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// statement is one additive, idempotent migration step. Column additions are
// guarded by information_schema probes so re-running Migrate on an already
// up-to-date database is a no-op, and indexes are only created once their
// target columns exist.
type statement struct {
	name string
	sql  string
}

var baseTables = []statement{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username TEXT NOT NULL,
			username_lower TEXT NOT NULL,
			email TEXT,
			password_hash TEXT NOT NULL,
			totp_secret TEXT,
			is_2fa_enabled BOOLEAN NOT NULL DEFAULT false,
			is_admin BOOLEAN NOT NULL DEFAULT false,
			is_locked BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"folders", `
		CREATE TABLE IF NOT EXISTS folders (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			parent_id UUID REFERENCES folders(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			position INT NOT NULL DEFAULT 0,
			is_expanded BOOLEAN NOT NULL DEFAULT true
		)`},
	{"notes", `
		CREATE TABLE IF NOT EXISTS notes (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			folder_id UUID REFERENCES folders(id) ON DELETE SET NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			favorite BOOLEAN NOT NULL DEFAULT false,
			pinned BOOLEAN NOT NULL DEFAULT false,
			archived BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"tags", `
		CREATE TABLE IF NOT EXISTS tags (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			name_lower TEXT NOT NULL
		)`},
	{"note_tags", `
		CREATE TABLE IF NOT EXISTS note_tags (
			note_id UUID NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (note_id, tag_id)
		)`},
	{"tasks", `
		CREATE TABLE IF NOT EXISTS tasks (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			folder_id UUID REFERENCES folders(id) ON DELETE SET NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			due_at TIMESTAMPTZ,
			completed BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"note_shares", `
		CREATE TABLE IF NOT EXISTS note_shares (
			id UUID PRIMARY KEY,
			note_id UUID NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			shared_by_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			shared_with_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			can_edit BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (note_id, shared_with_id)
		)`},
	{"task_shares", `
		CREATE TABLE IF NOT EXISTS task_shares (
			id UUID PRIMARY KEY,
			task_id UUID NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			shared_by_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			shared_with_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			can_edit BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (task_id, shared_with_id)
		)`},
	{"refresh_tokens", `
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT false
		)`},
	{"oauth_links", `
		CREATE TABLE IF NOT EXISTS oauth_links (
			provider TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (provider, provider_user_id)
		)`},
	{"chat_rooms", `
		CREATE TABLE IF NOT EXISTS chat_rooms (
			id UUID PRIMARY KEY,
			name TEXT,
			is_group BOOLEAN NOT NULL DEFAULT false,
			created_by_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			theme TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"chat_participants", `
		CREATE TABLE IF NOT EXISTS chat_participants (
			room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			last_read_at TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			PRIMARY KEY (room_id, user_id)
		)`},
	{"chat_messages", `
		CREATE TABLE IF NOT EXISTS chat_messages (
			id UUID PRIMARY KEY,
			room_id UUID NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			body TEXT NOT NULL,
			is_pinned BOOLEAN NOT NULL DEFAULT false,
			pinned_at TIMESTAMPTZ,
			pinned_by_id UUID REFERENCES users(id),
			sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			delivered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"chat_reactions", `
		CREATE TABLE IF NOT EXISTS chat_reactions (
			message_id UUID NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			emoji TEXT NOT NULL,
			PRIMARY KEY (message_id, user_id, emoji)
		)`},
	{"chat_reads", `
		CREATE TABLE IF NOT EXISTS chat_reads (
			message_id UUID NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (message_id, user_id)
		)`},
	{"sync_replay_log", `
		CREATE TABLE IF NOT EXISTS sync_replay_log (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			client_op_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			server_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, client_op_id)
		)`},
}

// indexStatements mirror the required indexes from the component design
// exactly; each runs after its target table/columns are known to exist.
var indexStatements = []statement{
	{"users_username_unique", `CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_idx ON users (username_lower)`},
	{"users_email_idx", `CREATE INDEX IF NOT EXISTS users_email_idx ON users (email)`},
	{"folders_user_parent_idx", `CREATE INDEX IF NOT EXISTS folders_user_parent_idx ON folders (user_id, parent_id)`},
	{"folders_unique_name", `CREATE UNIQUE INDEX IF NOT EXISTS folders_unique_name_idx ON folders (user_id, name, COALESCE(parent_id, '00000000-0000-0000-0000-000000000000'))`},
	{"notes_owner_archived_idx", `CREATE INDEX IF NOT EXISTS notes_owner_archived_idx ON notes (owner_id, archived)`},
	{"notes_folder_idx", `CREATE INDEX IF NOT EXISTS notes_folder_idx ON notes (folder_id)`},
	{"tasks_owner_completed_idx", `CREATE INDEX IF NOT EXISTS tasks_owner_completed_idx ON tasks (owner_id, completed)`},
	{"tasks_folder_idx", `CREATE INDEX IF NOT EXISTS tasks_folder_idx ON tasks (folder_id)`},
	{"note_shares_shared_with_idx", `CREATE INDEX IF NOT EXISTS note_shares_shared_with_idx ON note_shares (shared_with_id)`},
	{"task_shares_shared_with_idx", `CREATE INDEX IF NOT EXISTS task_shares_shared_with_idx ON task_shares (shared_with_id)`},
	{"chat_messages_room_created_idx", `CREATE INDEX IF NOT EXISTS chat_messages_room_created_idx ON chat_messages (room_id, created_at)`},
	{"refresh_tokens_hash_idx", `CREATE INDEX IF NOT EXISTS refresh_tokens_hash_idx ON refresh_tokens (token_hash)`},
	{"tags_owner_name_unique", `CREATE UNIQUE INDEX IF NOT EXISTS tags_owner_name_unique_idx ON tags (owner_id, name_lower)`},
	{"chat_rooms_direct_pair_unique", `CREATE UNIQUE INDEX IF NOT EXISTS chat_rooms_direct_pair_idx ON chat_rooms (direct_key) WHERE is_group = false`},
}

// columnAdditions demonstrates the conditional-column-add idiom the design
// notes require: each is only applied if the column is absent, so repeated
// boots of an already-migrated database never error.
var columnAdditions = []statement{
	{"notes_folder_id_conditional", `
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'notes' AND column_name = 'folder_id'
			) THEN
				ALTER TABLE notes ADD COLUMN folder_id UUID REFERENCES folders(id) ON DELETE SET NULL;
			END IF;
		END $$;`},
	{"tasks_folder_id_conditional", `
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'tasks' AND column_name = 'folder_id'
			) THEN
				ALTER TABLE tasks ADD COLUMN folder_id UUID REFERENCES folders(id) ON DELETE SET NULL;
			END IF;
		END $$;`},
	{"chat_rooms_direct_key_conditional", `
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chat_rooms' AND column_name = 'direct_key'
			) THEN
				ALTER TABLE chat_rooms ADD COLUMN direct_key TEXT;
			END IF;
		END $$;`},
}

// Migrate applies every migration step in order. Steps are additive and
// idempotent: re-running Migrate against an already current schema is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	all := make([]statement, 0, len(baseTables)+len(columnAdditions)+len(indexStatements))
	all = append(all, baseTables...)
	all = append(all, columnAdditions...)
	all = append(all, indexStatements...)

	for _, st := range all {
		if _, err := pool.Exec(ctx, st.sql); err != nil {
			log.Error().Err(err).Str("migration", st.name).Msg("migration failed")
			return err
		}
	}

	log.Info().Int("steps", len(all)).Msg("schema migrated")
	return nil
}
