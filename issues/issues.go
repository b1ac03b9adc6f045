// Package issues stores and deduplicates the findings produced by rule
// evaluation, and expands group-attributed findings into per-member ones.
package issues

import (
	"context"
	"fmt"
	"sync"
)

// Finding is one concrete vulnerability instance on one object. Principal
// fields are empty for purely configuration-based techniques.
type Finding struct {
	Technique   string
	Forest      string
	ObjectName  string
	ObjectDN    string
	ObjectClass string

	PrincipalName string
	PrincipalSID  string
	Right         string

	EnabledOn []string

	Issue  string
	Fix    string
	Revert string

	// GroupRef names the group finding a synthetic member finding was
	// derived from; the remediation script lives there, not here.
	GroupRef string

	// MemberCount is recorded on a group finding that was kept alongside
	// its member expansions.
	MemberCount int
}

// Record is the flattened row shape handed to the reporting boundary.
type Record struct {
	ObjectName  string
	ObjectClass string
	Technique   string
	Principal   string
}

// Member is one direct group member as the expansion pass sees it.
type Member struct {
	SID      string
	Name     string
	Resolved bool
}

// MemberLister answers group questions during finding expansion. It is
// satisfied by an adapter over the membership expander so the store stays
// decoupled from directory plumbing.
type MemberLister interface {
	IsGroup(sid string) bool
	DirectMembers(ctx context.Context, groupSID string) []Member
}

type storeKey struct {
	dn        string
	technique string
}

// Store indexes findings by (distinguished name, technique). Add performs
// an atomic duplicate-check-then-insert so concurrent evaluations cannot
// double-insert the same exploitable condition.
type Store struct {
	mu    sync.Mutex
	order []storeKey
	byKey map[storeKey][]Finding
}

func NewStore() *Store {
	return &Store{byKey: make(map[storeKey][]Finding)}
}

// Add stores a finding unless an equivalent one (same technique, object,
// principal and right) is already present. It reports whether the finding
// was stored.
func (s *Store) Add(f Finding) bool {
	key := storeKey{dn: f.ObjectDN, technique: f.Technique}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byKey[key] {
		if sameCondition(existing, f) {
			return false
		}
	}

	if _, seen := s.byKey[key]; !seen {
		s.order = append(s.order, key)
	}
	s.byKey[key] = append(s.byKey[key], f)
	return true
}

// Contains reports whether an equivalent finding is already stored.
func (s *Store) Contains(f Finding) bool {
	key := storeKey{dn: f.ObjectDN, technique: f.Technique}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byKey[key] {
		if sameCondition(existing, f) {
			return true
		}
	}
	return false
}

// Findings returns every stored finding, grouped by object and technique
// in first-insertion order.
func (s *Store) Findings() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Finding
	for _, key := range s.order {
		out = append(out, s.byKey[key]...)
	}
	return out
}

// Records returns the flattened row view for summary reporting.
func (s *Store) Records() []Record {
	var out []Record
	for _, f := range s.Findings() {
		out = append(out, Record{
			ObjectName:  f.ObjectName,
			ObjectClass: f.ObjectClass,
			Technique:   f.Technique,
			Principal:   f.PrincipalName,
		})
	}
	return out
}

// Len returns the number of stored findings.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, findings := range s.byKey {
		n += len(findings)
	}
	return n
}

// ExpandGroupFindings rewrites group-attributed findings into one synthetic
// finding per direct group member. The group's own SID never appears as a
// member, unresolvable members are skipped, and the original group finding
// is kept only when includeGroupFinding is set, annotated with its member
// count. The transform works purely on stored findings and is idempotent:
// expanding an already expanded store changes nothing.
func (s *Store) ExpandGroupFindings(ctx context.Context, groups MemberLister, includeGroupFinding bool) []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	rebuilt := make(map[storeKey][]Finding, len(s.byKey))
	var order []storeKey

	appendFinding := func(key storeKey, f Finding) {
		for _, existing := range rebuilt[key] {
			if sameCondition(existing, f) {
				return
			}
		}
		if _, seen := rebuilt[key]; !seen {
			order = append(order, key)
		}
		rebuilt[key] = append(rebuilt[key], f)
	}

	for _, key := range s.order {
		for _, f := range s.byKey[key] {
			if f.PrincipalSID == "" || f.GroupRef != "" || !groups.IsGroup(f.PrincipalSID) {
				appendFinding(key, f)
				continue
			}

			members := make([]Member, 0)
			for _, m := range groups.DirectMembers(ctx, f.PrincipalSID) {
				if m.SID == f.PrincipalSID || !m.Resolved {
					continue
				}
				members = append(members, m)
			}

			if includeGroupFinding || len(members) == 0 {
				group := f
				group.MemberCount = len(members)
				appendFinding(key, group)
			}

			for _, m := range members {
				appendFinding(key, memberFinding(f, m))
			}
		}
	}

	s.order = order
	s.byKey = rebuilt

	var out []Finding
	for _, key := range s.order {
		out = append(out, s.byKey[key]...)
	}
	return out
}

// memberFinding derives a per-member finding from a group finding. The
// issue text explains the indirection and the remediation script is
// referenced, not duplicated.
func memberFinding(group Finding, m Member) Finding {
	f := group
	f.PrincipalName = m.Name
	f.PrincipalSID = m.SID
	f.GroupRef = group.PrincipalName
	f.MemberCount = 0
	f.Issue = fmt.Sprintf("%s is exploitable via membership in group %s: %s",
		m.Name, group.PrincipalName, group.Issue)
	f.Fix = fmt.Sprintf("See the finding for group %s.", group.PrincipalName)
	f.Revert = f.Fix
	return f
}

func sameCondition(a, b Finding) bool {
	return a.Technique == b.Technique &&
		a.ObjectDN == b.ObjectDN &&
		a.PrincipalSID == b.PrincipalSID &&
		a.Right == b.Right
}
