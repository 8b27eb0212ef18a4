package main

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"

	"github.com/iliyamo/time-capsule/internal/config"
	"github.com/iliyamo/time-capsule/internal/database"
)

type commandContext struct {
	dbFlag *string
	lookup config.Lookup

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(dbFlag *string, lookup config.Lookup) *commandContext {
	return &commandContext{dbFlag: dbFlag, lookup: lookup}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.LoadToolFrom(c.resolvedLookup())
	})
	return c.config, c.configErr
}

// resolvedLookup layers --db over the environment: a path selects SQLite
// regardless of DB_DRIVER.
func (c *commandContext) resolvedLookup() config.Lookup {
	base := c.lookup
	if base == nil {
		base = os.LookupEnv
	}
	if c.dbFlag == nil || strings.TrimSpace(*c.dbFlag) == "" {
		return base
	}
	path := strings.TrimSpace(*c.dbFlag)
	return func(key string) (string, bool) {
		switch key {
		case "DB_DRIVER":
			return "sqlite", true
		case "DB_PATH":
			return path, true
		}
		return base(key)
	}
}

// withDB opens and migrates the configured database for the duration of fn.
func (c *commandContext) withDB(ctx context.Context, fn func(cfg config.Config, db *sql.DB) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	return fn(cfg, db)
}
