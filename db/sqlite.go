package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"harmonize/utils"
)

// SQLiteClient is a registry of saved harmonization models backed by an
// embedded SQLite database.
type SQLiteClient struct {
	db *sql.DB
}

// ModelRecord describes one saved model folder.
type ModelRecord struct {
	ID          int64
	Name        string
	Folder      string
	NSamples    int
	NFeatures   int
	NSites      int
	SmoothTerms string // comma-joined, empty for the linear model
	CreatedAt   time.Time
}

// NewSQLiteClient opens (and if needed creates) the registry database.
func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	// Create the directory if it doesn't exist (cross-platform)
	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000" // 5 seconds
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createModelsTable := `
    CREATE TABLE IF NOT EXISTS models (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        folder TEXT NOT NULL UNIQUE,
        n_samples INTEGER NOT NULL,
        n_features INTEGER NOT NULL,
        n_sites INTEGER NOT NULL,
        smooth_terms TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_models_name ON models(name);
    `

	if _, err := db.Exec(createModelsTable); err != nil {
		return fmt.Errorf("error creating models table: %s", err)
	}
	return nil
}

// RegisterModel records a saved model folder and returns its row id.
func (c *SQLiteClient) RegisterModel(rec ModelRecord) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO models (name, folder, n_samples, n_features, n_sites, smooth_terms)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Folder, rec.NSamples, rec.NFeatures, rec.NSites, rec.SmoothTerms,
	)
	if err != nil {
		return 0, fmt.Errorf("error registering model: %s", err)
	}
	return res.LastInsertId()
}

// ListModels returns all registered models, newest first.
func (c *SQLiteClient) ListModels() ([]ModelRecord, error) {
	rows, err := c.db.Query(
		`SELECT id, name, folder, n_samples, n_features, n_sites, smooth_terms, created_at
         FROM models ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %s", err)
	}
	defer rows.Close()

	var records []ModelRecord
	for rows.Next() {
		var rec ModelRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Folder, &rec.NSamples,
			&rec.NFeatures, &rec.NSites, &rec.SmoothTerms, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning model row: %s", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetModelByFolder looks up a registered model by its folder path.
func (c *SQLiteClient) GetModelByFolder(folder string) (*ModelRecord, error) {
	var rec ModelRecord
	err := c.db.QueryRow(
		`SELECT id, name, folder, n_samples, n_features, n_sites, smooth_terms, created_at
         FROM models WHERE folder = ?`, folder).
		Scan(&rec.ID, &rec.Name, &rec.Folder, &rec.NSamples,
			&rec.NFeatures, &rec.NSites, &rec.SmoothTerms, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up model: %s", err)
	}
	return &rec, nil
}

// Close closes the underlying database handle.
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}
