package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"sessions":          "Session lifecycle state",
	"topics":            "Conversation topic definitions",
	"collab_pairs":      "Collaboration pair metadata",
	"schema_migrations": "Migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_sessions_status":            "Live session restore",
	"idx_sessions_teacher_id":        "Session ownership queries",
	"idx_collab_pairs_session_topic": "Pair lookups per topic",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"sessions": {
			"id":                   "TEXT",
			"teacher_id":           "TEXT",
			"name":                 "TEXT",
			"status":               "TEXT",
			"grace_period_ends_at": "DATETIME",
			"created_at":           "DATETIME",
			"updated_at":           "DATETIME",
		},
		"topics": {
			"session_id":            "TEXT",
			"id":                    "TEXT",
			"title":                 "TEXT",
			"collaboration_enabled": "BOOLEAN",
		},
		"collab_pairs": {
			"collab_session_id": "TEXT",
			"conversation_id":   "TEXT",
			"session_id":        "TEXT",
			"topic_id":          "TEXT",
			"initiator_id":      "TEXT",
			"initiator_name":    "TEXT",
			"partner_id":        "TEXT",
			"partner_name":      "TEXT",
			"created_at":        "DATETIME",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that database constraints are properly enforced
// ARCHITECTURAL DISCOVERY: Constraint validation ensures data integrity rules
// are enforced at the database level
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO topics (session_id, id, title, collaboration_enabled)
		VALUES ('nonexistent', 'constraint-check', 'x', 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM topics WHERE id = 'constraint-check'")
		return fmt.Errorf("foreign key constraint not enforced: topics.session_id")
	}

	_, err = v.db.Exec(`
		INSERT INTO sessions (id, teacher_id, name, status)
		VALUES ('constraint-check', 'teacher', 'x', 'archived')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM sessions WHERE id = 'constraint-check'")
		return fmt.Errorf("check constraint not enforced: session status")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, expectedType := range expectedColumns {
		foundType, exists := found[column]
		if !exists {
			return fmt.Errorf("column %s not found", column)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", column, foundType, expectedType)
		}
	}
	return nil
}
