package schema

import (
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var (
	keyTypes     = []string{"text", "int", "bigint", "uuid", "timeuuid", "timestamp"}
	regularTypes = []string{"text", "int", "boolean", "double", "blob", "list<text>", "set<int>", "map<text, bigint>", "frozen<list<int>>"}
)

var customIndexClasses = []string{
	"org.apache.cassandra.index.sasi.SASIIndex",
	"StorageAttachedIndex",
}

var customIndexOptions = map[string][]string{
	"mode":           {"PREFIX", "CONTAINS", "SPARSE"},
	"analyzed":       {"true", "false"},
	"case_sensitive": {"true", "false"},
}

// randomSchema builds a valid schema from a seed so that gopter can shrink on
// a single int64.
func randomSchema(seed int64) *Schema {
	r := rand.New(rand.NewSource(seed))
	s := &Schema{
		TableName:         fmt.Sprintf("t%d", r.Intn(1000)),
		ClusteringOrder:   map[string]Order{},
		MaterializedViews: map[string]*MaterializedView{},
	}

	nPartition := 1 + r.Intn(2)
	nClustering := r.Intn(3)
	var keyFields []string
	for i := 0; i < nPartition+nClustering; i++ {
		name := fmt.Sprintf("k%d", i)
		keyFields = append(keyFields, name)
		s.Fields = append(s.Fields, &Field{Name: name, Type: keyTypes[r.Intn(len(keyTypes))]})
	}
	s.Key = Key{Partition: keyFields[:nPartition], Clustering: keyFields[nPartition:]}
	for _, name := range s.Key.Clustering {
		if r.Intn(2) == 0 {
			s.ClusteringOrder[name] = Desc
		}
	}

	var regular []string
	for i := 0; i < 1+r.Intn(6); i++ {
		name := fmt.Sprintf("f%d", i)
		f := &Field{Name: name, Type: regularTypes[r.Intn(len(regularTypes))]}
		if nClustering > 0 && r.Intn(5) == 0 {
			f.Static = true
		}
		regular = append(regular, name)
		s.Fields = append(s.Fields, f)
	}
	for _, name := range regular {
		if r.Intn(3) == 0 {
			s.Indexes = append(s.Indexes, name)
		}
	}
	for i := r.Intn(3); i > 0; i-- {
		idx := CustomIndex{
			On:      regular[r.Intn(len(regular))],
			Using:   customIndexClasses[r.Intn(len(customIndexClasses))],
			Options: map[string]string{},
		}
		for _, k := range []string{"mode", "analyzed", "case_sensitive"} {
			if r.Intn(2) == 0 {
				idx.Options[k] = customIndexOptions[k][r.Intn(len(customIndexOptions[k]))]
			}
		}
		s.CustomIndexes = append(s.CustomIndexes, idx)
	}
	if r.Intn(2) == 0 {
		viewKey := regular[r.Intn(len(regular))]
		if f := s.Field(viewKey); ExtractType(f.Type) == "text" || ExtractType(f.Type) == "int" {
			s.MaterializedViews[s.TableName+"_by_"+viewKey] = &MaterializedView{
				Select: append([]string{viewKey}, keyFields...),
				Key:    Key{Partition: []string{viewKey}, Clustering: slices.Clone(keyFields)},
			}
		}
	}

	r.Shuffle(len(s.Fields), func(i, j int) { s.Fields[i], s.Fields[j] = s.Fields[j], s.Fields[i] })
	return s
}

func shuffled(s *Schema, seed int64) *Schema {
	r := rand.New(rand.NewSource(seed))
	c := *s
	c.Fields = slices.Clone(s.Fields)
	r.Shuffle(len(c.Fields), func(i, j int) { c.Fields[i], c.Fields[j] = c.Fields[j], c.Fields[i] })
	c.Indexes = slices.Clone(s.Indexes)
	r.Shuffle(len(c.Indexes), func(i, j int) { c.Indexes[i], c.Indexes[j] = c.Indexes[j], c.Indexes[i] })
	c.CustomIndexes = slices.Clone(s.CustomIndexes)
	r.Shuffle(len(c.CustomIndexes), func(i, j int) {
		c.CustomIndexes[i], c.CustomIndexes[j] = c.CustomIndexes[j], c.CustomIndexes[i]
	})
	return &c
}

func TestSchemaProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("generated schemas normalize", prop.ForAll(
		func(seed int64) bool {
			_, err := Normalize(randomSchema(seed))
			return err == nil
		},
		gen.Int64(),
	))

	properties.Property("declaration order does not affect the normalized form", prop.ForAll(
		func(seed, shuffle int64) bool {
			s := randomSchema(seed)
			a, err := Normalize(s)
			if err != nil {
				return false
			}
			b, err := Normalize(shuffled(s, shuffle))
			if err != nil {
				return false
			}
			return a.Equal(b)
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("catalog round trip preserves the schema", prop.ForAll(
		func(seed int64) bool {
			n, err := Normalize(randomSchema(seed))
			if err != nil {
				return false
			}
			live, err := FromCatalog(n.TableName, CatalogOf(n))
			if err != nil || live == nil {
				return false
			}
			return n.Equal(live.Schema)
		},
		gen.Int64(),
	))

	properties.Property("custom indexes keep their stored names through the catalog", prop.ForAll(
		func(seed int64) bool {
			n, err := Normalize(randomSchema(seed))
			if err != nil {
				return false
			}
			live, err := FromCatalog(n.TableName, CatalogOf(n))
			if err != nil || live == nil || len(live.Schema.CustomIndexes) != len(n.CustomIndexes) {
				return false
			}
			for _, idx := range n.CustomIndexes {
				if _, ok := live.CustomIndexName(idx); !ok {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("applying a field diff reaches the target fields", prop.ForAll(
		func(from, to int64) bool {
			a, err := Normalize(randomSchema(from))
			if err != nil {
				return false
			}
			b, err := Normalize(randomSchema(to))
			if err != nil {
				return false
			}
			applied := a.Apply(DiffFields(a, b))
			return maps.Equal(applied.Fields, b.Fields) &&
				slices.Equal(slices.Sorted(slices.Values(applied.FieldOrder)), slices.Sorted(slices.Values(b.FieldOrder)))
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("schema files round trip", prop.ForAll(
		func(seed int64) bool {
			s := randomSchema(seed)
			n, err := Normalize(s)
			if err != nil {
				return false
			}
			buf, err := Marshal(&Keyspace{Name: "ks", Tables: []*Schema{s}})
			if err != nil {
				return false
			}
			ks, err := Parse(buf)
			if err != nil || len(ks.Tables) != 1 {
				return false
			}
			again, err := Normalize(ks.Tables[0])
			return err == nil && n.Equal(again)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
