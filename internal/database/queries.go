package database

const (
	createMigrationsTable = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT   PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`

	selectMigration = `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`

	insertMigration = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`

	listMigrations = `SELECT version, applied_at FROM schema_migrations ORDER BY version`
)
