package alyx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"
)

// Schema creates the tables a CatalogClient reads. It is valid for both
// sqlite and postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	lab TEXT NOT NULL DEFAULT '',
	start_time TEXT NOT NULL DEFAULT '',
	task_protocol TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	users TEXT NOT NULL DEFAULT '',
	record TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS dataset_types (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS datasets (
	session_id TEXT NOT NULL,
	dataset_type TEXT NOT NULL,
	collection TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS rest_records (
	endpoint TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
`

// CatalogClient implements Client on top of a SQL mirror of the database.
// File paths in the datasets table are resolved against Root when relative.
type CatalogClient struct {
	db     *sql.DB
	driver string
	root   string
}

var _ Client = (*CatalogClient)(nil)

// OpenCatalog opens a catalog database. driver is "sqlite" or "pgx".
func OpenCatalog(ctx context.Context, driver, dsn, root string) (*CatalogClient, error) {
	switch driver {
	case "sqlite", "pgx":
	case "":
		driver = "sqlite"
	default:
		return nil, &internal.ConfigError{Field: "catalog.driver", Err: fmt.Errorf("unsupported driver %q", driver)}
	}
	if dsn == "" {
		return nil, &internal.ConfigError{Field: "catalog.dsn", Err: fmt.Errorf("empty")}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog ping failed: %w", err)
	}
	if root == "" && driver == "sqlite" && !strings.HasPrefix(dsn, ":") && !strings.HasPrefix(dsn, "file:") {
		root = filepath.Dir(dsn)
	}
	return NewCatalogClient(db, driver, root), nil
}

// NewCatalogClient wraps an open database
func NewCatalogClient(db *sql.DB, driver, root string) *CatalogClient {
	return &CatalogClient{db: db, driver: driver, root: root}
}

// CreateSchema creates the catalog tables when missing
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating catalog schema: %w", err)
		}
	}
	return nil
}

// DB returns the underlying handle
func (c *CatalogClient) DB() *sql.DB {
	return c.db
}

// Close closes the database
func (c *CatalogClient) Close() error {
	return c.db.Close()
}

// Search returns matching session ids ordered by start time
func (c *CatalogClient) Search(ctx context.Context, q Query) ([]string, error) {
	var where []string
	var args []interface{}
	add := func(clause, v string) {
		where = append(where, clause)
		args = append(args, v)
	}
	if q.Subject != "" {
		add("subject = ?", q.Subject)
	}
	if q.Lab != "" {
		add("lab = ?", q.Lab)
	}
	if q.DateFrom != "" {
		add("substr(start_time, 1, 10) >= ?", q.DateFrom)
	}
	if q.DateTo != "" {
		add("substr(start_time, 1, 10) <= ?", q.DateTo)
	}
	if q.TaskProtocol != "" {
		add("task_protocol LIKE ?", "%"+q.TaskProtocol+"%")
	}
	if q.Project != "" {
		add("project = ?", q.Project)
	}
	query := "SELECT id FROM sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time, id"

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, &internal.FetchError{Op: "search", Err: err}
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &internal.FetchError{Op: "search", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.FetchError{Op: "search", Err: err}
	}
	return ids, nil
}

// List returns one category of names attached to a session
func (c *CatalogClient) List(ctx context.Context, sessionID, category string) ([]string, error) {
	if category == CategoryDatasetType {
		rows, err := c.db.QueryContext(ctx,
			c.rebind("SELECT DISTINCT dataset_type FROM datasets WHERE session_id = ? ORDER BY dataset_type"), sessionID)
		if err != nil {
			return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: err}
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var dt string
			if err := rows.Scan(&dt); err != nil {
				return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: err}
			}
			out = append(out, dt)
		}
		return out, rows.Err()
	}

	var column string
	switch category {
	case CategoryUsers:
		column = "users"
	case CategorySubjects:
		column = "subject"
	case CategoryLabs:
		column = "lab"
	default:
		return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: fmt.Errorf("unknown category %q", category)}
	}
	var value string
	err := c.db.QueryRowContext(ctx, c.rebind("SELECT "+column+" FROM sessions WHERE id = ?"), sessionID).Scan(&value)
	if err != nil {
		return nil, &internal.FetchError{SessionID: sessionID, Op: "list", Err: err}
	}
	return splitList(value), nil
}

// Rest serves stored records. "sessions/<id>" falls back to the sessions
// table and "dataset-types" to the dataset_types table when no stored body
// exists.
func (c *CatalogClient) Rest(ctx context.Context, endpoint, action string) (Response, error) {
	if action != "list" {
		return Response{}, &internal.FetchError{Op: "rest", Err: fmt.Errorf("unsupported action %q", action)}
	}
	endpoint = strings.Trim(endpoint, "/")

	var body string
	err := c.db.QueryRowContext(ctx, c.rebind("SELECT body FROM rest_records WHERE endpoint = ?"), endpoint).Scan(&body)
	switch {
	case err == nil:
		resp, err := decodeResponse(json.RawMessage(body))
		if err != nil {
			return Response{}, &internal.FetchError{Op: "rest", Dataset: endpoint, Err: err}
		}
		return resp, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Response{}, &internal.FetchError{Op: "rest", Dataset: endpoint, Err: err}
	}

	switch {
	case strings.HasPrefix(endpoint, "sessions/"):
		return c.sessionRecord(ctx, strings.TrimPrefix(endpoint, "sessions/"))
	case endpoint == "dataset-types":
		return c.datasetTypes(ctx)
	}
	return Response{}, &internal.FetchError{Op: "rest", Dataset: endpoint, Err: sql.ErrNoRows}
}

// Load returns the files of the requested dataset types. Items are ordered by
// collection then path, which keeps probe00 before probe01.
func (c *CatalogClient) Load(ctx context.Context, sessionID string, datasetTypes []string, dclassOutput bool) (*Bundle, error) {
	bundle := &Bundle{SessionID: sessionID}
	for _, dt := range datasetTypes {
		rows, err := c.db.QueryContext(ctx, c.rebind(
			"SELECT collection, local_path FROM datasets WHERE session_id = ? AND dataset_type = ? ORDER BY collection, local_path"),
			sessionID, dt)
		if err != nil {
			return bundle, &internal.FetchError{SessionID: sessionID, Dataset: dt, Op: "load", Err: err}
		}
		for rows.Next() {
			var item Item
			if err := rows.Scan(&item.Collection, &item.LocalPath); err != nil {
				rows.Close()
				return bundle, &internal.FetchError{SessionID: sessionID, Dataset: dt, Op: "load", Err: err}
			}
			if item.LocalPath != "" && !filepath.IsAbs(item.LocalPath) && c.root != "" {
				item.LocalPath = filepath.Join(c.root, filepath.FromSlash(item.LocalPath))
			}
			bundle.Items = append(bundle.Items, item)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return bundle, &internal.FetchError{SessionID: sessionID, Dataset: dt, Op: "load", Err: err}
		}
	}
	return bundle, nil
}

func (c *CatalogClient) sessionRecord(ctx context.Context, id string) (Response, error) {
	var subject, lab, start, protocol, project, users, record string
	err := c.db.QueryRowContext(ctx, c.rebind(
		"SELECT subject, lab, start_time, task_protocol, project, users, record FROM sessions WHERE id = ?"), id).
		Scan(&subject, &lab, &start, &protocol, &project, &users, &record)
	if err != nil {
		return Response{}, &internal.FetchError{SessionID: id, Op: "rest", Err: err}
	}
	rec := Record{}
	if record != "" {
		if err := json.Unmarshal([]byte(record), &rec); err != nil {
			return Response{}, &internal.FetchError{SessionID: id, Op: "rest", Err: err}
		}
	}
	setDefault := func(k string, v interface{}) {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
	setDefault("id", id)
	setDefault("subject", subject)
	setDefault("lab", lab)
	setDefault("start_time", start)
	setDefault("task_protocol", protocol)
	setDefault("project", project)
	userList := make([]interface{}, 0)
	for _, u := range splitList(users) {
		userList = append(userList, u)
	}
	setDefault("users", userList)
	return Response{One: rec}, nil
}

func (c *CatalogClient) datasetTypes(ctx context.Context) (Response, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name, description FROM dataset_types ORDER BY name")
	if err != nil {
		return Response{}, &internal.FetchError{Op: "rest", Dataset: "dataset-types", Err: err}
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var name, desc string
		if err := rows.Scan(&name, &desc); err != nil {
			return Response{}, &internal.FetchError{Op: "rest", Dataset: "dataset-types", Err: err}
		}
		out = append(out, Record{"name": name, "description": desc})
	}
	return Response{Many: out}, rows.Err()
}

// rebind rewrites ? placeholders to $n for postgres
func (c *CatalogClient) rebind(query string) string {
	if c.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
