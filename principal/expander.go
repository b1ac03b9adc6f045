package principal

import (
	"context"

	"github.com/rs/zerolog"
)

// Expander enumerates the direct members of groups. Expansion is
// deliberately non-transitive: nested groups appear as members themselves
// and are not walked further.
type Expander struct {
	resolver *Resolver
	members  *MemberCache
	log      zerolog.Logger
}

func NewExpander(resolver *Resolver, log zerolog.Logger) *Expander {
	return &Expander{
		resolver: resolver,
		members:  NewMemberCache(),
		log:      log.With().Str("component", "expander").Logger(),
	}
}

// DirectMembers returns the direct members of the group identified by SID.
// Results are cached per group, empty lists included, so each group costs
// at most one pass over its member DNs per run. Members that cannot be
// read are skipped with a debug trace rather than failing the expansion.
func (e *Expander) DirectMembers(ctx context.Context, groupSID string) []Principal {
	if sids, ok := e.members.Get(groupSID); ok {
		return e.hydrate(sids)
	}

	group := e.resolver.ResolveBySid(ctx, groupSID)
	if group.Class != ClassGroup || !group.Resolved {
		e.members.Set(groupSID, nil)
		return nil
	}

	sids := make([]string, 0, len(group.MemberDNs))
	for _, dn := range group.MemberDNs {
		member, err := e.resolver.ResolveByDN(ctx, dn)
		if err != nil {
			e.log.Debug().Str("group", group.Name).Str("member", dn).
				Err(err).Msg("skipping unreadable group member")
			continue
		}
		sids = append(sids, member.SID)
	}

	e.members.Set(groupSID, sids)
	return e.hydrate(sids)
}

// Expand returns the union of the input SIDs and, for every input SID
// that denotes a group, that group's direct members. Non-group SIDs pass
// through unchanged and group SIDs are retained alongside their members.
// The result is deduplicated and sorted for determinism.
func (e *Expander) Expand(ctx context.Context, sids []string) []string {
	out := make([]string, 0, len(sids))
	for _, sid := range sids {
		out = append(out, sid)
		for _, member := range e.DirectMembers(ctx, sid) {
			out = append(out, member.SID)
		}
	}
	return sortedSet(out)
}

// hydrate maps cached member SIDs back to principals through the
// resolver's cache, which ResolveByDN populated during the first walk.
func (e *Expander) hydrate(sids []string) []Principal {
	members := make([]Principal, 0, len(sids))
	for _, sid := range sids {
		if p, ok := e.resolver.Cached(sid); ok {
			members = append(members, p)
			continue
		}
		members = append(members, unresolvedPrincipal(sid))
	}
	return members
}
