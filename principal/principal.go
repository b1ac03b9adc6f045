// Package principal resolves security principals across the forest and
// expands direct group membership, backed by process-wide caches.
package principal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gildap "github.com/Macmod/adcslint/ldap"
)

// ObjectClass is the resolved kind of a principal.
type ObjectClass string

const (
	ClassUser      ObjectClass = "user"
	ClassGroup     ObjectClass = "group"
	ClassComputer  ObjectClass = "computer"
	ClassWellKnown ObjectClass = "well-known"
	ClassUnknown   ObjectClass = "unknown"
)

// Principal is one resolved identity. Created once per unique SID on first
// resolution and immutable afterwards; the SID is the stable key.
type Principal struct {
	SID       string
	Name      string // NETBIOS\account; falls back to the raw SID
	Class     ObjectClass
	DN        string
	DomainDN  string
	MemberDNs []string // raw member attribute, groups only
	Resolved  bool
}

// Domain is one domain partition of the forest, loaded once at startup.
type Domain struct {
	NetBIOS string
	DN      string
	DNS     string
}

// DomainTable maps distinguished names to their owning domain. Read-only
// after LoadDomains.
type DomainTable struct {
	mu      sync.RWMutex
	domains []Domain
}

// LoadDomains enumerates the forest's domain partitions from the Partitions
// container of the configuration naming context.
func LoadDomains(ctx context.Context, dir gildap.Searcher, configNC string) (*DomainTable, error) {
	entries, err := dir.SearchSubtree(
		ctx,
		"CN=Partitions,"+configNC,
		"(&(objectClass=crossRef)(systemFlags:1.2.840.113556.1.4.803:=2))",
		[]string{"nETBIOSName", "nCName", "dnsRoot"},
	)
	if err != nil {
		return nil, fmt.Errorf("enumerate domain partitions: %w", err)
	}

	table := &DomainTable{}
	for i := range entries {
		e := &entries[i]
		d := Domain{
			NetBIOS: strings.ToUpper(e.GetAttrVal("nETBIOSName", "")),
			DN:      e.GetAttrVal("nCName", ""),
			DNS:     strings.ToUpper(e.GetAttrVal("dnsRoot", "")),
		}
		if d.DN == "" {
			continue
		}
		table.domains = append(table.domains, d)
	}

	if len(table.domains) == 0 {
		return nil, fmt.Errorf("no domain partitions found under %q", configNC)
	}

	return table, nil
}

// NewDomainTable builds a table from fixed entries, used in tests and in
// snapshot mode where the partitions container travels with the snapshot.
func NewDomainTable(domains ...Domain) *DomainTable {
	return &DomainTable{domains: domains}
}

// ByObjectDN returns the domain owning the given object DN by longest
// suffix match against the partition naming contexts.
func (t *DomainTable) ByObjectDN(dn string) (Domain, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	upper := strings.ToUpper(dn)
	var best Domain
	found := false
	for _, d := range t.domains {
		suffix := strings.ToUpper(d.DN)
		if strings.HasSuffix(upper, suffix) && len(suffix) > len(best.DN) {
			best = d
			found = true
		}
	}

	return best, found
}

// NetBIOSForDN resolves the NetBIOS domain name for an object DN, falling
// back to the first DC= naming component when the table has no entry.
func (t *DomainTable) NetBIOSForDN(dn string) string {
	if d, ok := t.ByObjectDN(dn); ok && d.NetBIOS != "" {
		return d.NetBIOS
	}
	return gildap.FirstDCComponent(dn)
}

// All returns the loaded domains.
func (t *DomainTable) All() []Domain {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Domain, len(t.domains))
	copy(out, t.domains)
	return out
}
