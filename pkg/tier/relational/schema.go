package relational

// schema is portable between sqlite and postgres. Timestamps are unix nanos.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS memory_records (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		text            TEXT NOT NULL,
		created_at      BIGINT NOT NULL,
		metadata        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_records_conversation
		ON memory_records(owner_id, conversation_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		owner_id            TEXT PRIMARY KEY,
		role                TEXT NOT NULL,
		language_preference TEXT NOT NULL,
		privacy_level       TEXT NOT NULL,
		safety_level        TEXT NOT NULL,
		active_skills       TEXT NOT NULL,
		preferences         TEXT NOT NULL,
		updated_at          BIGINT NOT NULL
	)`,
}

const insertRecord = `INSERT INTO memory_records
	(id, owner_id, conversation_id, role, text, created_at, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`

const selectRecent = `SELECT id, owner_id, conversation_id, role, text, created_at, metadata
	FROM memory_records
	WHERE owner_id = ? AND conversation_id = ?
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

const selectProfile = `SELECT owner_id, role, language_preference, privacy_level, safety_level,
	active_skills, preferences, updated_at
	FROM user_profiles WHERE owner_id = ?`

const upsertProfile = `INSERT INTO user_profiles
	(owner_id, role, language_preference, privacy_level, safety_level, active_skills, preferences, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id) DO UPDATE SET
		role = excluded.role,
		language_preference = excluded.language_preference,
		privacy_level = excluded.privacy_level,
		safety_level = excluded.safety_level,
		active_skills = excluded.active_skills,
		preferences = excluded.preferences,
		updated_at = excluded.updated_at`
