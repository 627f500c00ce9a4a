package file

import (
	"context"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/cqldef/cqldef/schema"
	"github.com/goccy/go-yaml"
)

// Catalog answers catalog queries from a file instead of a live cluster, so
// that two files can be compared or a plan computed offline. The file is
// either a schema file or a catalog snapshot written by MarshalSnapshot.
type Catalog struct {
	path string

	once     sync.Once
	err      error
	name     string
	tables   []string
	catalogs map[string]*schema.Catalog
}

// Snapshot is the on-disk form of the catalog rows of a keyspace.
type Snapshot struct {
	Keyspace string                     `yaml:"keyspace"`
	Catalog  map[string]*schema.Catalog `yaml:"catalog"`
}

func MarshalSnapshot(keyspace string, catalogs map[string]*schema.Catalog) ([]byte, error) {
	return yaml.Marshal(Snapshot{Keyspace: keyspace, Catalog: catalogs})
}

func NewCatalog(path string) *Catalog {
	return &Catalog{path: path}
}

func (c *Catalog) load() error {
	c.once.Do(func() {
		c.err = c.read()
	})
	return c.err
}

func (c *Catalog) read() error {
	buf, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(buf, &snapshot); err == nil && snapshot.Catalog != nil {
		c.name = snapshot.Keyspace
		c.catalogs = snapshot.Catalog
		c.tables = slices.Sorted(maps.Keys(snapshot.Catalog))
		return nil
	}

	ks, err := schema.Parse(buf)
	if err != nil {
		return err
	}
	c.name = ks.Name
	c.catalogs = map[string]*schema.Catalog{}
	for _, table := range ks.Tables {
		n, err := schema.Normalize(table)
		if err != nil {
			return err
		}
		c.tables = append(c.tables, table.TableName)
		c.catalogs[table.TableName] = schema.CatalogOf(n)
	}
	return nil
}

func (c *Catalog) table(table string) (*schema.Catalog, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	if cat, ok := c.catalogs[table]; ok && cat != nil {
		return cat, nil
	}
	return &schema.Catalog{}, nil
}

func (c *Catalog) Columns(_ context.Context, _ string, table string) ([]schema.ColumnRow, error) {
	cat, err := c.table(table)
	if err != nil {
		return nil, err
	}
	return cat.Columns, nil
}

func (c *Catalog) Indexes(_ context.Context, _ string, table string) ([]schema.IndexRow, error) {
	cat, err := c.table(table)
	if err != nil {
		return nil, err
	}
	return cat.Indexes, nil
}

func (c *Catalog) Views(_ context.Context, _ string, table string) ([]schema.ViewRow, error) {
	cat, err := c.table(table)
	if err != nil {
		return nil, err
	}
	return cat.Views, nil
}

func (c *Catalog) ViewColumns(_ context.Context, _ string, views []string) ([]schema.ColumnRow, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, v := range views {
		wanted[v] = true
	}
	var rows []schema.ColumnRow
	for _, table := range c.tables {
		cat := c.catalogs[table]
		if cat == nil {
			continue
		}
		for _, row := range cat.ViewColumns {
			if wanted[row.TableName] {
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

func (c *Catalog) Tables(_ context.Context, _ string) ([]string, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	return slices.Clone(c.tables), nil
}

// Keyspace returns the keyspace name declared in the file.
func (c *Catalog) Keyspace() (string, error) {
	if err := c.load(); err != nil {
		return "", err
	}
	return c.name, nil
}
