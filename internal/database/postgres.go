package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/oakmere/drguard/internal/config"
)

// Regions holds one database handle per operating region. Handles are
// opened lazily-pooled by database/sql; a region whose database is down
// still gets a handle, the failure shows up on Ping.
type Regions struct {
	handles map[string]*sql.DB
}

// OpenRegions opens handles for the primary and secondary databases.
func OpenRegions(cfg config.DatabaseConfig, primaryRegion, secondaryRegion string) (*Regions, error) {
	primary, err := open(cfg.Primary)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", primaryRegion, err)
	}
	secondary, err := open(cfg.Secondary)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("open %s database: %w", secondaryRegion, err)
	}

	return &Regions{
		handles: map[string]*sql.DB{
			primaryRegion:   primary,
			secondaryRegion: secondary,
		},
	}, nil
}

func open(loc config.DatabaseLocator) (*sql.DB, error) {
	if loc.SSLMode == "" {
		loc.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		loc.Host, loc.Port, loc.User, loc.Password, loc.Database, loc.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Handle returns the database handle for a region, or nil if the region
// is unknown.
func (r *Regions) Handle(region string) *sql.DB {
	return r.handles[region]
}

// Ping verifies connectivity to a region's database.
func (r *Regions) Ping(ctx context.Context, region string) error {
	db := r.handles[region]
	if db == nil {
		return fmt.Errorf("no database configured for region %q", region)
	}
	return db.PingContext(ctx)
}

// Close closes all handles.
func (r *Regions) Close() error {
	var firstErr error
	for region, db := range r.handles {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s database: %w", region, err)
		}
	}
	return firstErr
}
