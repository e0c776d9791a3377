package db

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
	"github.com/voxbridge/voxbridge-backend/internal/utils"
	"github.com/voxbridge/voxbridge-backend/internal/version"
)

// advisoryLockKey serialises schema provisioning across workers.
const advisoryLockKey int64 = 0x766f7862 // "voxb"

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "voxbridge", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}

// Provision brings the schema up to date under a process-wide advisory
// lock: tables, store-enforced triggers and the metadata version row.
func (s *PostgresService) Provision() error {
	return s.db.Connection(func(conn *gorm.DB) error {
		isPostgres := conn.Dialector.Name() == "postgres"
		if isPostgres {
			if err := conn.Exec(`SELECT pg_advisory_lock(?)`, advisoryLockKey).Error; err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			defer func() {
				_ = conn.Exec(`SELECT pg_advisory_unlock(?)`, advisoryLockKey).Error
			}()
		}
		return Migrate(conn, s.log)
	})
}

// Migrate is the lock-free body of Provision; it also backs the sqlite
// test databases.
func Migrate(gdb *gorm.DB, log *logger.Logger) error {
	if err := checkMetadataPresence(gdb); err != nil {
		return err
	}

	log.Info("Auto migrating tables...")
	if err := gdb.AutoMigrate(
		&types.Metadata{},
		&types.User{},
		&types.LocalAccount{},
		&types.OIDCAccount{},
		&types.LDAPAccount{},
		&types.Runner{},
		&types.JobSettings{},
		&types.AudioBlob{},
		&types.AudioChunk{},
		&types.Job{},
		&types.Transcript{},
		&types.TokenSecret{},
		&types.SiteData{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	if err := createTriggers(gdb); err != nil {
		return err
	}

	return ensureMetadataRow(gdb, log)
}

// checkMetadataPresence fails loudly when the namespace holds tables but no
// metadata table: that store was written by something we do not understand,
// and guessing would risk data.
func checkMetadataPresence(gdb *gorm.DB) error {
	m := gdb.Migrator()
	if m.HasTable(&types.Metadata{}) {
		return nil
	}
	for _, t := range []interface{}{
		&types.User{}, &types.Job{}, &types.Runner{}, &types.Transcript{},
	} {
		if m.HasTable(t) {
			return errors.New("store has tables but no metadata table; refusing to guess its layout")
		}
	}
	return nil
}

func ensureMetadataRow(gdb *gorm.DB, log *logger.Logger) error {
	var meta types.Metadata
	err := gdb.First(&meta, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		meta = types.Metadata{ID: 1, Version: version.Version}
		if err := gdb.Create(&meta).Error; err != nil {
			return fmt.Errorf("create metadata row: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metadata row: %w", err)
	}

	storedMajor, err := majorOf(meta.Version)
	if err != nil {
		return fmt.Errorf("stored version %q: %w", meta.Version, err)
	}
	currentMajor, err := majorOf(version.Version)
	if err != nil {
		return fmt.Errorf("current version %q: %w", version.Version, err)
	}
	if storedMajor > currentMajor {
		return fmt.Errorf("store was opened by version %s, newer than %s; refusing to start", meta.Version, version.Version)
	}
	if meta.Version != version.Version {
		log.Info("Updating store version", "from", meta.Version, "to", version.Version)
		if err := gdb.Model(&types.Metadata{}).Where("id = ?", 1).
			Update("version", version.Version).Error; err != nil {
			return fmt.Errorf("update store version: %w", err)
		}
	}
	return nil
}

func majorOf(v string) (int, error) {
	parts := strings.SplitN(strings.TrimPrefix(v, "v"), ".", 2)
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("not a semantic version")
	}
	return major, nil
}

// createTriggers installs the invariants the store enforces itself: job
// deletion unlinks the audio blob, chunk rows die with their blob, the
// transcript dies with its job, only one default settings row per user,
// and the per-user token secret is recreated on deletion.
func createTriggers(gdb *gorm.DB) error {
	switch gdb.Dialector.Name() {
	case "postgres":
		return createPostgresTriggers(gdb)
	case "sqlite":
		return createSQLiteTriggers(gdb)
	default:
		return fmt.Errorf("unsupported dialect %q", gdb.Dialector.Name())
	}
}

func createPostgresTriggers(gdb *gorm.DB) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_settings_one_default
		   ON job_settings (user_id) WHERE is_default`,
		`CREATE OR REPLACE FUNCTION unlink_job_audio() RETURNS trigger AS $$
		 BEGIN
		   IF OLD.audio_blob_id IS NOT NULL THEN
		     DELETE FROM audio_blobs WHERE id = OLD.audio_blob_id;
		   END IF;
		   DELETE FROM transcripts WHERE job_id = OLD.id;
		   RETURN OLD;
		 END;
		 $$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_jobs_unlink_audio ON jobs`,
		`CREATE TRIGGER trg_jobs_unlink_audio AFTER DELETE ON jobs
		   FOR EACH ROW EXECUTE FUNCTION unlink_job_audio()`,
		`CREATE OR REPLACE FUNCTION drop_blob_chunks() RETURNS trigger AS $$
		 BEGIN
		   DELETE FROM audio_chunks WHERE blob_id = OLD.id;
		   RETURN OLD;
		 END;
		 $$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_audio_blobs_drop_chunks ON audio_blobs`,
		`CREATE TRIGGER trg_audio_blobs_drop_chunks AFTER DELETE ON audio_blobs
		   FOR EACH ROW EXECUTE FUNCTION drop_blob_chunks()`,
		`CREATE OR REPLACE FUNCTION recreate_token_secret() RETURNS trigger AS $$
		 BEGIN
		   IF EXISTS (SELECT 1 FROM users WHERE id = OLD.user_id) THEN
		     INSERT INTO token_secrets (user_id, secret)
		       VALUES (OLD.user_id, encode(gen_random_bytes(32), 'hex'))
		       ON CONFLICT (user_id) DO NOTHING;
		   END IF;
		   RETURN OLD;
		 END;
		 $$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_token_secrets_recreate ON token_secrets`,
		`CREATE TRIGGER trg_token_secrets_recreate AFTER DELETE ON token_secrets
		   FOR EACH ROW EXECUTE FUNCTION recreate_token_secret()`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}

func createSQLiteTriggers(gdb *gorm.DB) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_settings_one_default
		   ON job_settings (user_id) WHERE is_default`,
		`CREATE TRIGGER IF NOT EXISTS trg_jobs_unlink_audio AFTER DELETE ON jobs
		 BEGIN
		   DELETE FROM audio_blobs WHERE id = OLD.audio_blob_id;
		   DELETE FROM transcripts WHERE job_id = OLD.id;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_audio_blobs_drop_chunks AFTER DELETE ON audio_blobs
		 BEGIN
		   DELETE FROM audio_chunks WHERE blob_id = OLD.id;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_token_secrets_recreate AFTER DELETE ON token_secrets
		 WHEN EXISTS (SELECT 1 FROM users WHERE id = OLD.user_id)
		 BEGIN
		   INSERT OR IGNORE INTO token_secrets (user_id, secret)
		     VALUES (OLD.user_id, lower(hex(randomblob(32))));
		 END`,
	}
	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create trigger: %w", err)
		}
	}
	return nil
}
