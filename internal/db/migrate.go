package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// curatorSchema owns every table the curator writes.
const curatorSchema = "curator"

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name   string
	sql    string
	// models runs gorm AutoMigrate for the curator models instead of sql.
	models bool
}

// migrationPlan creates the schema, then the run, post and channel tables,
// then the indexes and the post-to-run foreign key that need both tables.
func migrationPlan() []migrationStep {
	return []migrationStep{
		{name: "curator schema", sql: preAutoMigrateSQL},
		{name: "curator tables", models: true},
		{name: "curator indexes", sql: postAutoMigrateSQL},
	}
}

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	for _, step := range migrationPlan() {
		if err := p.applyMigration(ctx, step); err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
	}
	return nil
}

func (p *Pool) applyMigration(ctx context.Context, step migrationStep) error {
	if step.models {
		models := autoMigrateModels()
		for _, model := range models {
			if err := checkCuratorTable(model); err != nil {
				return err
			}
		}
		return p.gdb.WithContext(ctx).AutoMigrate(models...)
	}

	statement := strings.TrimSpace(step.sql)
	if statement == "" {
		return nil
	}
	return p.gdb.WithContext(ctx).Exec(statement).Error
}

type tabler interface {
	TableName() string
}

// checkCuratorTable rejects models that would land outside the curator schema.
func checkCuratorTable(model any) error {
	named, ok := model.(tabler)
	if !ok {
		return fmt.Errorf("model %T has no table name", model)
	}
	schema, table, found := strings.Cut(named.TableName(), ".")
	if !found || schema != curatorSchema || table == "" {
		return fmt.Errorf("model %T table %q is outside schema %s", model, named.TableName(), curatorSchema)
	}
	return nil
}
