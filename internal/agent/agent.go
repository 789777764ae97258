// Package agent exposes a read-only SQL surface so external analysis tools
// can query the analytics schema directly instead of going through the
// fixed aggregation endpoints.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"
)

// QueryTimeout bounds a single agent query.
const QueryTimeout = 5 * time.Second

// SchemaResponse is the response format for the schema endpoint.
type SchemaResponse struct {
	Schema   string            `json:"schema"`
	Concepts map[string]string `json:"concepts"`
}

// SQLRequest is the request format for the SQL endpoint.
type SQLRequest struct {
	SQL string `json:"sql"`
}

// SQLResponse is the response format for the SQL endpoint.
type SQLResponse struct {
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int             `json:"row_count"`
}

// GetSchema returns the database schema plus the concepts a query author
// needs to aggregate the raw tables correctly.
func GetSchema(db *gorm.DB) (*SchemaResponse, error) {
	schema, err := GetDatabaseSchema(db)
	if err != nil {
		return nil, err
	}

	return &SchemaResponse{
		Schema: schema,
		Concepts: map[string]string{
			"site_scoping":      "Data is multi-tenant. Always filter sessions, page_views, event_records and performance_samples by 'site_id'.",
			"sessions":          "One row per visit. 'started_at' and 'last_activity' are UTC; a visit spans the two.",
			"visitors_vs_views": "COUNT(DISTINCT sessions.visitor_id) = unique visitors, COUNT(page_views.id) = total page views.",
			"bounce_rate":       "is_bounce is settled by a background job. Rate = AVG(is_bounce) * 100 over sessions.",
			"referrers":         "sessions.referrer_type is one of: direct, search, social, email, other. sessions.referrer holds the raw URL.",
			"events":            "event_records.name is free-form. Session lifecycle markers use the reserved name 'session_end'.",
			"performance":       "performance_samples metrics are milliseconds. lcp_ms is NULL when the tracker gave up waiting for it.",
		},
	}, nil
}

// GetDatabaseSchema retrieves the table DDL from sqlite_master.
func GetDatabaseSchema(db *gorm.DB) (string, error) {
	var schemas []string
	rows, err := db.Raw("SELECT sql FROM sqlite_master WHERE type='table'").Rows()
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return "", err
		}
		if schema != "" {
			schemas = append(schemas, schema)
		}
	}

	return strings.Join(schemas, ";\n") + ";", nil
}

// ValidateReadOnlyQuery checks that the SQL query cannot write or escape the
// database. Comments and multiple statements are rejected outright.
func ValidateReadOnlyQuery(sqlQuery string) error {
	if strings.Contains(sqlQuery, "/*") || strings.Contains(sqlQuery, "--") {
		return fmt.Errorf("comments not allowed in queries")
	}

	if strings.Count(sqlQuery, ";") > 1 {
		return fmt.Errorf("multiple statements not allowed")
	}

	// Strip string literals first so keywords inside values, like a path
	// named '/delete-account', do not trip the check.
	withoutStrings := regexp.MustCompile(`'[^']*'`).ReplaceAllString(sqlQuery, "''")

	normalized := strings.ToLower(withoutStrings)
	normalized = regexp.MustCompile(`\s+`).ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	// CTEs are read-only, so WITH is as acceptable as SELECT.
	if !strings.HasPrefix(normalized, "select ") && !strings.HasPrefix(normalized, "with ") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	dangerous := []string{
		"insert", "update", "delete", "drop", "alter", "create",
		"truncate", "replace", "grant", "revoke", "exec", "execute",
		"call", "pragma", "attach", "detach", "vacuum", "reindex",
		"load_extension", "writefile", "readfile",
	}

	for _, keyword := range dangerous {
		pattern := regexp.MustCompile(`\b` + keyword + `\b`)
		if pattern.MatchString(normalized) {
			return fmt.Errorf("dangerous operation not allowed: %s", keyword)
		}
	}

	return nil
}

// ExecuteQuery runs a validated query and returns columns plus rows. Byte
// columns are stringified so the JSON response stays readable.
func ExecuteQuery(ctx context.Context, db *gorm.DB, sqlQuery string, timeout time.Duration) (*SQLResponse, error) {
	if err := ValidateReadOnlyQuery(sqlQuery); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.WithContext(queryCtx).Raw(sqlQuery).Rows()
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var resultRows [][]interface{}
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range columns {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}

		row := make([]interface{}, len(columns))
		for i, val := range values {
			if b, ok := val.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = val
			}
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return &SQLResponse{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
