package migrate

import (
	"fmt"
	"strings"
)

// AlterPolicy lists the column type changes the store can apply in place
// with ALTER ... TYPE. Which changes are legal depends on the store version,
// hence the policy is configurable.
type AlterPolicy struct {
	pairs map[typeChange]bool
}

type typeChange struct {
	from, to string
}

var blobCompatible = []string{
	"text", "ascii", "bigint", "boolean", "decimal", "double", "float",
	"inet", "int", "timestamp", "timeuuid", "uuid", "varint",
}

func DefaultAlterPolicy() *AlterPolicy {
	p := &AlterPolicy{pairs: map[typeChange]bool{}}
	p.Allow("int", "varint")
	p.Allow("timeuuid", "uuid")
	for _, t := range blobCompatible {
		p.Allow(t, "blob")
	}
	return p
}

// ParseAlterPolicy extends the default policy with "from:to" entries.
func ParseAlterPolicy(extra []string) (*AlterPolicy, error) {
	p := DefaultAlterPolicy()
	for _, entry := range extra {
		from, to, ok := strings.Cut(entry, ":")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid alterable type %q, expected from:to", entry)
		}
		p.Allow(from, to)
	}
	return p, nil
}

func (p *AlterPolicy) Allow(from, to string) {
	p.pairs[typeChange{strings.ToLower(from), strings.ToLower(to)}] = true
}

func (p *AlterPolicy) Alterable(from, to string) bool {
	return p.pairs[typeChange{from, to}]
}
