package eventlog

import (
	"fmt"

	"github.com/gyaneshwarpardhi/pubnet/internal/storage"
)

func schema(dialect, table string) []string {
	if dialect == storage.DialectSQLite {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id INTEGER NOT NULL DEFAULT 0,
	action_name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	"timestamp" INTEGER NOT NULL
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_action_id_idx ON %[1]s (action_name, id)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_email_idx ON %[1]s (email)`, table),
		}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	node_id BIGINT NOT NULL DEFAULT 0,
	action_name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	data JSONB NOT NULL,
	"timestamp" BIGINT NOT NULL
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_action_id_idx ON %[1]s (action_name, id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_email_idx ON %[1]s (email)`, table),
	}
}
