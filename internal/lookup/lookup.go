// Package lookup resolves marketplace category field values from the
// SQL Server mapping tables.
package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	_ "github.com/microsoft/go-mssqldb"
)

type Config struct {
	Server   string
	Database string
	User     string
	Password string
}

// Lookup is batch scoped: the processor calls Connect before a sweep and
// Close after. Query results are memoized across sweeps so a short outage
// still serves the hot mappings.
type Lookup struct {
	connString string
	db         *sql.DB
	cache      *gocache.Cache
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Lookup {
	connString := ""
	if cfg.Server != "" {
		query := url.Values{}
		query.Set("database", cfg.Database)
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Server,
			RawQuery: query.Encode(),
		}
		connString = u.String()
	}
	return &Lookup{
		connString: connString,
		cache:      gocache.New(30*time.Minute, 10*time.Minute),
		logger:     logger,
	}
}

func (l *Lookup) Connect(ctx context.Context) error {
	if l.connString == "" {
		return fmt.Errorf("lookup: no database configured")
	}
	db, err := sql.Open("sqlserver", l.connString)
	if err != nil {
		return fmt.Errorf("lookup: opening connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("lookup: ping failed: %w", err)
	}
	l.db = db
	return nil
}

func (l *Lookup) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

const categoryFieldsQuery = `
SELECT m.FieldName, m.BFValue
FROM utb_BFCategories c
INNER JOIN utb_BFMapping m ON c.FieldName = m.FieldName
WHERE c.CategoryID = @p1 AND m.SHValue = @p2`

// CategoryFields returns the marketplace field overrides for a category and
// variant title. Any failure degrades to an empty map so mapping proceeds
// without the SQL-derived fields.
func (l *Lookup) CategoryFields(ctx context.Context, categoryID, variantTitle string) map[string]string {
	if categoryID == "" || variantTitle == "" {
		return map[string]string{}
	}

	cacheKey := categoryID + "|" + variantTitle
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cached.(map[string]string)
	}

	if l.db == nil {
		l.logger.Warn("Category lookup skipped, database not connected",
			zap.String("category_id", categoryID))
		return map[string]string{}
	}

	rows, err := l.db.QueryContext(ctx, categoryFieldsQuery, categoryID, variantTitle)
	if err != nil {
		l.logger.Warn("Category lookup query failed",
			zap.String("category_id", categoryID),
			zap.String("variant_title", variantTitle),
			zap.Error(err))
		return map[string]string{}
	}
	defer rows.Close()

	fields := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			l.logger.Warn("Category lookup row scan failed", zap.Error(err))
			return map[string]string{}
		}
		fields[name] = value
	}
	if err := rows.Err(); err != nil {
		l.logger.Warn("Category lookup iteration failed", zap.Error(err))
		return map[string]string{}
	}

	l.cache.Set(cacheKey, fields, gocache.DefaultExpiration)
	return fields
}
