package migrate

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/schema"
)

const (
	promptRecreate          = `Migration: model schema changed for table "%s", drop table & recreate? (data will be lost!) (y/n): `
	promptAddField          = `Migration: model schema for table "%s" has added field "%s", alter table to add column? (y/n): `
	promptRemoveField       = `Migration: model schema for table "%s" has removed field "%s", alter table to drop column? (column data will be lost & dependent indexes/views will be recreated!) (y/n): `
	promptAlterType         = `Migration: model schema for table "%s" has new type for field "%s", alter table to update column type? (y/n): `
	promptIncompatibleKey   = `Migration: model schema for table "%s" has new incompatible type for primary key field "%s", proceed to recreate table? (y/n): `
	promptIncompatibleField = `Migration: model schema for table "%s" has new incompatible type for field "%s", drop column and recreate? (column data will be lost & dependent indexes/views will be recreated!) (y/n): `
	promptRemovedViews      = `Migration: model schema for table "%s" has removed materialized_views: %s, drop them? (y/n): `
	promptRemovedIndexes    = `Migration: model schema for table "%s" has removed indexes: %s, drop them? (y/n): `
)

// Task is one step of a migration. The confirmation, when present, is asked
// before any of the statements run; declining it stops the migration.
type Task struct {
	Confirm string
	DDLs    []schema.DDL
}

type Plan struct {
	Table string
	Mode  Mode
	Tasks []Task
}

func (p *Plan) Empty() bool {
	return p == nil || len(p.Tasks) == 0
}

// Statements flattens the plan into statement text.
func (p *Plan) Statements() []string {
	if p == nil {
		return nil
	}
	var stmts []string
	for _, t := range p.Tasks {
		for _, ddl := range t.DDLs {
			stmts = append(stmts, ddl.Statement())
		}
	}
	return stmts
}

// Prompts lists the confirmations the plan will ask for.
func (p *Plan) Prompts() []string {
	if p == nil {
		return nil
	}
	var prompts []string
	for _, t := range p.Tasks {
		if t.Confirm != "" {
			prompts = append(prompts, t.Confirm)
		}
	}
	return prompts
}

// Planner turns a desired and a live schema into a Plan. It performs no I/O.
type Planner struct {
	Mode   Mode
	Policy *AlterPolicy
}

func NewPlanner(config database.GeneratorConfig) (*Planner, error) {
	policy, err := ParseAlterPolicy(config.AlterableTypes)
	if err != nil {
		return nil, err
	}
	return &Planner{Mode: ResolveMode(config), Policy: policy}, nil
}

// Plan computes the tasks that bring live in line with desired. A nil live
// schema means the table does not exist yet.
func (p *Planner) Plan(desired *schema.NormalizedSchema, live *schema.Live) (*Plan, error) {
	plan := &Plan{Table: desired.TableName, Mode: p.Mode}
	switch {
	case live == nil:
		plan.Tasks = []Task{{DDLs: schema.CreateStatements(desired)}}
	case desired.Equal(live.Schema):
	case p.Mode == ModeAlter && desired.KeyEqual(live.Schema):
		plan.Tasks = p.alter(desired, live)
	case p.Mode == ModeAlter || p.Mode == ModeDrop:
		plan.Tasks = []Task{recreate(desired, live)}
	default:
		return nil, cqlerr.Newf(cqlerr.SchemaMismatch,
			"schema of table %q does not match the live table and migration mode is %s", desired.TableName, p.Mode)
	}
	slog.Debug("Planned migration", "table", plan.Table, "mode", plan.Mode, "tasks", len(plan.Tasks))
	return plan, nil
}

func recreate(desired *schema.NormalizedSchema, live *schema.Live) Task {
	task := Task{Confirm: fmt.Sprintf(promptRecreate, desired.TableName)}
	for _, name := range live.Schema.ViewNames() {
		task.DDLs = append(task.DDLs, &schema.DropMaterializedView{Name: name})
	}
	task.DDLs = append(task.DDLs, &schema.DropTable{Name: desired.TableName})
	task.DDLs = append(task.DDLs, schema.CreateStatements(desired)...)
	return task
}

// alter walks the field differences in declaration order, tracking what the
// live table looks like after each step, then reconciles indexes and views
// against the tracked state.
func (p *Planner) alter(desired *schema.NormalizedSchema, live *schema.Live) []Task {
	table := desired.TableName
	tracked := live.Clone()
	var tasks []Task

	for _, d := range schema.DiffFields(live.Schema, desired) {
		switch d.Kind {
		case schema.FieldAdded:
			tasks = append(tasks, Task{
				Confirm: fmt.Sprintf(promptAddField, table, d.Field),
				DDLs:    []schema.DDL{addColumn(table, d.Field, d.New)},
			})
		case schema.FieldRemoved:
			task := Task{Confirm: fmt.Sprintf(promptRemoveField, table, d.Field)}
			task.DDLs = dropColumn(tracked, d.Field)
			tasks = append(tasks, task)
		case schema.FieldChanged:
			switch {
			case d.TypeOnly() && p.Policy.Alterable(d.Old.Type, d.New.Type):
				tasks = append(tasks, Task{
					Confirm: fmt.Sprintf(promptAlterType, table, d.Field),
					DDLs:    []schema.DDL{&schema.AlterTable{Table: table, Op: schema.AlterType, Column: d.Field, Field: d.New}},
				})
			case live.Schema.Key.Contains(d.Field):
				// A key column cannot be dropped; the remaining differences
				// are moot once the table is recreated.
				tasks = append(tasks, Task{Confirm: fmt.Sprintf(promptIncompatibleKey, table, d.Field)})
				return append(tasks, recreate(desired, live))
			default:
				task := Task{Confirm: fmt.Sprintf(promptIncompatibleField, table, d.Field)}
				task.DDLs = append(dropColumn(tracked, d.Field), addColumn(table, d.Field, d.New))
				tasks = append(tasks, task)
			}
		}
		tracked.Schema.ApplyDifference(d)
	}

	return append(tasks, reconcileDependents(desired, tracked)...)
}

func addColumn(table, name string, field schema.NormalizedField) schema.DDL {
	return &schema.AlterTable{Table: table, Op: schema.AlterAdd, Column: name, Field: field}
}

// dropColumn drops the views and indexes that reference field, then the
// column itself, and removes the dependents from tracked.
func dropColumn(tracked *schema.Live, field string) []schema.DDL {
	indexes, customIndexes, views := tracked.Schema.DependentsOf(field)
	var ddls []schema.DDL
	for _, name := range views {
		ddls = append(ddls, &schema.DropMaterializedView{Name: name})
	}
	for _, target := range indexes {
		ddls = append(ddls, &schema.DropIndex{Name: indexName(tracked, target)})
	}
	for _, idx := range customIndexes {
		ddls = append(ddls, &schema.DropIndex{Name: customIndexName(tracked, idx)})
	}
	tracked.Schema.RemoveDependents(indexes, customIndexes, views)
	return append(ddls, &schema.AlterTable{Table: tracked.Schema.TableName, Op: schema.AlterDrop, Column: field})
}

// reconcileDependents drops indexes and views that are no longer desired and
// creates the missing ones. Removals are confirmed first.
func reconcileDependents(desired *schema.NormalizedSchema, tracked *schema.Live) []Task {
	table := desired.TableName
	current := tracked.Schema

	var addedIndexes, removedIndexes []string
	for _, target := range desired.Indexes {
		if !slices.Contains(current.Indexes, target) {
			addedIndexes = append(addedIndexes, target)
		}
	}
	for _, target := range current.Indexes {
		if !slices.Contains(desired.Indexes, target) {
			removedIndexes = append(removedIndexes, target)
		}
	}

	var addedCustom, removedCustom []schema.CustomIndex
	for _, idx := range desired.CustomIndexes {
		if !containsCustomIndex(current.CustomIndexes, idx) {
			addedCustom = append(addedCustom, idx)
		}
	}
	for _, idx := range current.CustomIndexes {
		if !containsCustomIndex(desired.CustomIndexes, idx) {
			removedCustom = append(removedCustom, idx)
		}
	}

	var addedViews, removedViews []string
	for _, name := range desired.ViewNames() {
		if v, ok := current.MaterializedViews[name]; !ok || !v.Equal(desired.MaterializedViews[name]) {
			addedViews = append(addedViews, name)
		}
	}
	for _, name := range current.ViewNames() {
		if v, ok := desired.MaterializedViews[name]; !ok || !v.Equal(current.MaterializedViews[name]) {
			removedViews = append(removedViews, name)
		}
	}

	var removedIndexNames []string
	for _, target := range removedIndexes {
		removedIndexNames = append(removedIndexNames, indexName(tracked, target))
	}
	for _, idx := range removedCustom {
		removedIndexNames = append(removedIndexNames, customIndexName(tracked, idx))
	}

	var tasks []Task
	if len(removedViews) > 0 {
		tasks = append(tasks, Task{Confirm: fmt.Sprintf(promptRemovedViews, table, jsonList(removedViews))})
	}
	if len(removedIndexNames) > 0 {
		tasks = append(tasks, Task{Confirm: fmt.Sprintf(promptRemovedIndexes, table, jsonList(removedIndexNames))})
	}

	var ddls []schema.DDL
	for _, name := range removedViews {
		ddls = append(ddls, &schema.DropMaterializedView{Name: name})
	}
	for _, name := range removedIndexNames {
		ddls = append(ddls, &schema.DropIndex{Name: name})
	}
	for _, target := range addedIndexes {
		ddls = append(ddls, &schema.CreateIndex{Table: table, Target: target})
	}
	for _, idx := range addedCustom {
		ddls = append(ddls, &schema.CreateCustomIndex{Table: table, Index: idx})
	}
	for _, name := range addedViews {
		ddls = append(ddls, &schema.CreateMaterializedView{Table: table, Name: name, View: desired.MaterializedViews[name]})
	}
	if len(ddls) > 0 {
		tasks = append(tasks, Task{DDLs: ddls})
	}
	return tasks
}

func containsCustomIndex(list []schema.CustomIndex, idx schema.CustomIndex) bool {
	h := idx.Hash()
	return slices.ContainsFunc(list, func(c schema.CustomIndex) bool { return c.Hash() == h })
}

// indexName resolves the stored name of an index. Indexes created outside
// of the catalog's knowledge fall back to the store's naming convention.
func indexName(live *schema.Live, target string) string {
	if name, ok := live.IndexName(target); ok {
		return name
	}
	return fmt.Sprintf("%s_%s_idx", live.Schema.TableName, schema.IndexField(target))
}

func customIndexName(live *schema.Live, idx schema.CustomIndex) string {
	if name, ok := live.CustomIndexName(idx); ok {
		return name
	}
	return fmt.Sprintf("%s_%s_idx", live.Schema.TableName, idx.On)
}

func jsonList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
