package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidroman0O/featurestage"
	"github.com/go-playground/validator/v10"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no document is stored for a stage.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS stage_documents (
	pipeline_id TEXT NOT NULL,
	stage_uid   TEXT NOT NULL,
	class_name  TEXT NOT NULL,
	is_model    INTEGER NOT NULL,
	document    BLOB NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (pipeline_id, stage_uid)
)`

// Config holds SQLite store configuration
type Config struct {
	Path            string        `validate:"required"`
	MaxOpenConns    int           `validate:"gte=0"`
	MaxIdleConns    int           `validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
}

var validate = validator.New()

// SQLiteStore keeps rendered stage documents in SQLite, keyed by pipeline
// id and stage uid.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore creates a new store. Init must be called before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = min(5, cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid docstore config: %w", err)
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database and creates the documents table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save renders doc and stores it, replacing any document already stored
// for the same stage.
func (s *SQLiteStore) Save(ctx context.Context, pipelineID string, doc *featurestage.Document) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if pipelineID == "" {
		return fmt.Errorf("pipeline id is required")
	}
	if doc == nil || doc.UID == "" {
		return fmt.Errorf("document must carry a stage uid")
	}

	data, err := featurestage.RenderDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to render document %s: %w", doc.UID, err)
	}

	query := `
		INSERT INTO stage_documents (pipeline_id, stage_uid, class_name, is_model, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (pipeline_id, stage_uid) DO UPDATE SET
			class_name = excluded.class_name,
			is_model = excluded.is_model,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, pipelineID, doc.UID, doc.ClassName, doc.IsModel, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.UID, err)
	}
	return nil
}

// Load returns the document stored for stageUID.
func (s *SQLiteStore) Load(ctx context.Context, pipelineID, stageUID string) (*featurestage.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT document
		FROM stage_documents
		WHERE pipeline_id = ? AND stage_uid = ?
	`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, pipelineID, stageUID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, pipelineID, stageUID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", stageUID, err)
	}

	return featurestage.ParseDocument(data)
}

// List returns the stage uids stored for pipelineID in uid order.
func (s *SQLiteStore) List(ctx context.Context, pipelineID string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT stage_uid FROM stage_documents WHERE pipeline_id = ? ORDER BY stage_uid`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan stage uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// Delete removes the document stored for stageUID.
func (s *SQLiteStore) Delete(ctx context.Context, pipelineID, stageUID string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM stage_documents WHERE pipeline_id = ? AND stage_uid = ?`, pipelineID, stageUID)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", stageUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", stageUID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, pipelineID, stageUID)
	}
	return nil
}
