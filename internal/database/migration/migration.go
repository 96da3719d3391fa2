package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_cvs",
		SQL: `CREATE TABLE IF NOT EXISTS cvs (
  id                UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  owner_id          UUID        NOT NULL,
  filename          TEXT        NOT NULL,
  original_filename TEXT        NOT NULL,
  storage_path      TEXT        NOT NULL UNIQUE,
  size              BIGINT      NOT NULL CHECK (size > 0),
  content_type      TEXT        NOT NULL,
  extracted_text    TEXT,
  status            TEXT        NOT NULL DEFAULT 'uploaded'
                    CHECK (status IN ('uploaded','processing','completed','failed','retry')),
  attempts          INT         NOT NULL DEFAULT 0,
  next_attempt_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  lease_expires_at  TIMESTAMPTZ,
  uploaded_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  processed_at      TIMESTAMPTZ,
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_table_cv_analyses",
		SQL: `CREATE TABLE IF NOT EXISTS cv_analyses (
  id                   UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  cv_id                UUID        NOT NULL UNIQUE REFERENCES cvs(id),
  experience_score     INT         NOT NULL CHECK (experience_score BETWEEN 0 AND 100),
  education_score      INT         NOT NULL CHECK (education_score BETWEEN 0 AND 100),
  skills_score         INT         NOT NULL CHECK (skills_score BETWEEN 0 AND 100),
  overall_score        INT         NOT NULL CHECK (overall_score BETWEEN 0 AND 100),
  experience_rationale TEXT,
  education_rationale  TEXT,
  skills_rationale     TEXT,
  feedback             TEXT,
  years_experience     INT         CHECK (years_experience >= 0),
  education_level      TEXT,
  key_skills           JSONB       NOT NULL DEFAULT '[]',
  job_titles           JSONB       NOT NULL DEFAULT '[]',
  companies            JSONB       NOT NULL DEFAULT '[]',
  model                TEXT        NOT NULL,
  duration_ms          BIGINT      NOT NULL DEFAULT 0,
  tokens               INT,
  created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_table_cv_processing_logs",
		SQL: `CREATE TABLE IF NOT EXISTS cv_processing_logs (
  id           UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  cv_id        UUID        NOT NULL REFERENCES cvs(id),
  status       TEXT        NOT NULL,
  message      TEXT,
  error_detail TEXT,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_cvs_owner_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_cvs_owner_id ON cvs (owner_id);`,
	},
	{
		Name: "create_index_cvs_claimable",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_cvs_claimable ON cvs (status, next_attempt_at, uploaded_at);`,
	},
	{
		Name: "create_index_cvs_uploaded_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_cvs_uploaded_at ON cvs (uploaded_at);`,
	},
	{
		Name: "create_index_cv_processing_logs_cv_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_cv_processing_logs_cv_id ON cv_processing_logs (cv_id, created_at);`,
	},
}

// EnsureMigrated checks if the 'cvs' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.cvs') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
