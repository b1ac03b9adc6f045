package principal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	gildap "github.com/Macmod/adcslint/ldap"
	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound reports that a strategy completed but the principal does not
// exist where it looked; other errors are protocol failures.
var ErrNotFound = errors.New("principal not found")

// ErrUnresolved reports that every strategy failed for an identity.
var ErrUnresolved = errors.New("identity could not be resolved")

// TranslateFunc is a native identity-translation hook. It succeeds when the
// caller's own identity context already knows the principal (e.g. a
// same-domain lookup on Windows) and lets the resolver skip the directory
// entirely.
type TranslateFunc func(ctx context.Context, sid string) (name string, class ObjectClass, err error)

var principalAttrs = []string{
	"sAMAccountName", "objectClass", "objectSid",
	"distinguishedName", "member", "sAMAccountType",
}

// Resolver converts between SIDs and account names using an ordered chain
// of strategies: cache, native translation, global catalog, default domain
// partition. Failure is non-fatal; callers proceed with the raw identity.
type Resolver struct {
	dir       gildap.Searcher
	domains   *DomainTable
	cache     *Cache
	translate TranslateFunc
	defaultNC string
	log       zerolog.Logger

	// flight collapses concurrent resolutions of the same key into a
	// single directory round trip.
	flight singleflight.Group
	names  sync.Map // upper account name -> SID
}

// NewResolver builds a resolver around an injected directory client and
// caches; nothing here is ambient global state.
func NewResolver(dir gildap.Searcher, domains *DomainTable, cache *Cache, defaultNC string, log zerolog.Logger) *Resolver {
	return &Resolver{
		dir:       dir,
		domains:   domains,
		cache:     cache,
		defaultNC: defaultNC,
		log:       log.With().Str("component", "resolver").Logger(),
	}
}

// WithTranslator installs the native identity-translation hook.
func (r *Resolver) WithTranslator(fn TranslateFunc) *Resolver {
	r.translate = fn
	return r
}

// Cached returns the principal for a SID if it is already known, without
// touching the directory.
func (r *Resolver) Cached(sid string) (Principal, bool) {
	if wks, ok := gildap.WellKnownSIDs[sid]; ok {
		return wellKnownPrincipal(sid, wks), true
	}
	return r.cache.Get(sid)
}

// ResolveBySid resolves a SID to a principal. At most one directory round
// trip happens per unique SID per run, concurrency included: conflicting
// callers wait for the in-flight resolution instead of re-querying.
func (r *Resolver) ResolveBySid(ctx context.Context, sid string) Principal {
	if wks, ok := gildap.WellKnownSIDs[sid]; ok {
		return wellKnownPrincipal(sid, wks)
	}

	if p, ok := r.cache.Get(sid); ok {
		return p
	}

	return r.single("sid:"+strings.ToUpper(sid), func() Principal {
		if p, ok := r.cache.Get(sid); ok {
			return p
		}
		p := r.resolveSidUncached(ctx, sid)
		r.store(p)
		return p
	})
}

// ResolveByAccountName resolves an account name, with or without a
// DOMAIN\ qualifier, to a principal.
func (r *Resolver) ResolveByAccountName(ctx context.Context, name string) Principal {
	account := name
	if i := strings.LastIndex(account, "\\"); i >= 0 {
		account = account[i+1:]
	}

	if sid, ok := r.names.Load(strings.ToUpper(account)); ok {
		if p, found := r.Cached(sid.(string)); found {
			return p
		}
	}

	return r.single("name:"+strings.ToUpper(account), func() Principal {
		filter := fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(account))
		p, err := r.searchChain(ctx, filter)
		if err != nil {
			r.log.Warn().Str("account", name).Err(err).
				Msg("account name resolution failed, proceeding unresolved")
			return Principal{SID: "", Name: name, Class: ClassUnknown}
		}
		r.store(p)
		return p
	})
}

// ResolveByDN resolves a single object by base-scoped read of its DN,
// populating the SID cache as a side effect. Used when walking group
// member lists.
func (r *Resolver) ResolveByDN(ctx context.Context, dn string) (Principal, error) {
	entries, err := r.dir.SearchBase(ctx, dn, "", principalAttrs)
	if err != nil {
		return Principal{}, fmt.Errorf("read member %q: %w", dn, err)
	}
	if len(entries) == 0 {
		return Principal{}, fmt.Errorf("read member %q: %w", dn, ErrNotFound)
	}

	p := r.fromEntry(&entries[0])
	if p.SID == "" {
		return Principal{}, fmt.Errorf("member %q has no objectSid", dn)
	}

	if _, ok := r.cache.Get(p.SID); !ok {
		r.store(p)
	}

	return p, nil
}

// ToAccountName renders the display name for a SID, falling back to the
// raw SID when unresolvable.
func (r *Resolver) ToAccountName(ctx context.Context, sid string) string {
	return r.ResolveBySid(ctx, sid).Name
}

// ToSid converts an account name to a SID. Inputs that already look like a
// SID pass through unchanged.
func (r *Resolver) ToSid(ctx context.Context, name string) (string, error) {
	if strings.HasPrefix(strings.ToUpper(name), "S-1-") {
		return name, nil
	}

	p := r.ResolveByAccountName(ctx, name)
	if p.SID == "" {
		return "", fmt.Errorf("%q: %w", name, ErrUnresolved)
	}

	return p.SID, nil
}

func (r *Resolver) single(key string, fn func() Principal) Principal {
	v, _, _ := r.flight.Do(key, func() (interface{}, error) {
		return fn(), nil
	})
	return v.(Principal)
}

func (r *Resolver) resolveSidUncached(ctx context.Context, sid string) Principal {
	var reasons []string

	if r.translate != nil {
		name, class, err := r.translate(ctx, sid)
		if err == nil && name != "" {
			return Principal{SID: sid, Name: name, Class: class, Resolved: true}
		}
		reasons = append(reasons, fmt.Sprintf("native translation: %v", err))
	}

	filter, err := gildap.SIDFilter(sid)
	if err != nil {
		r.log.Warn().Str("sid", sid).Err(err).Msg("unresolvable identity")
		return unresolvedPrincipal(sid)
	}

	p, err := r.searchChain(ctx, filter)
	if err != nil {
		reasons = append(reasons, err.Error())
		r.log.Warn().Str("sid", sid).Str("reason", strings.Join(reasons, "; ")).
			Msg("identity resolution failed, proceeding with raw SID")
		return unresolvedPrincipal(sid)
	}

	return p
}

// searchChain tries the global catalog first for forest-wide coverage,
// then the default domain partition directly.
func (r *Resolver) searchChain(ctx context.Context, filter string) (Principal, error) {
	var reasons []string

	entries, err := r.dir.SearchGlobalCatalog(ctx, filter, principalAttrs)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("global catalog: %v", err))
	} else if len(entries) > 0 {
		return r.fromEntry(&entries[0]), nil
	} else {
		reasons = append(reasons, "global catalog: no match")
	}

	entries, err = r.dir.SearchSubtree(ctx, r.defaultNC, filter, principalAttrs)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("default partition: %v", err))
	} else if len(entries) > 0 {
		return r.fromEntry(&entries[0]), nil
	} else {
		reasons = append(reasons, "default partition: no match")
	}

	return Principal{}, fmt.Errorf("%w (%s)", ErrUnresolved, strings.Join(reasons, "; "))
}

func (r *Resolver) fromEntry(e *gildap.LDAPEntry) Principal {
	account := e.GetAttrVal("sAMAccountName", "")
	dn := e.GetAttrVal("distinguishedName", e.DN)
	sid := e.GetSID()

	p := Principal{
		SID:       sid,
		Class:     classFromEntry(e),
		DN:        dn,
		MemberDNs: e.GetAttrVals("member", nil),
		Resolved:  true,
	}

	netbios := ""
	if r.domains != nil && dn != "" {
		netbios = r.domains.NetBIOSForDN(dn)
		if d, ok := r.domains.ByObjectDN(dn); ok {
			p.DomainDN = d.DN
		}
	}

	switch {
	case account == "":
		p.Name = sid
	case netbios == "":
		p.Name = account
	default:
		p.Name = strings.ToUpper(netbios) + "\\" + account
	}

	return p
}

func (r *Resolver) store(p Principal) {
	if p.SID == "" {
		return
	}
	r.cache.Set(p.SID, p)
	if p.Name != "" {
		account := p.Name
		if i := strings.LastIndex(account, "\\"); i >= 0 {
			account = account[i+1:]
		}
		r.names.Store(strings.ToUpper(account), p.SID)
	}
}

func classFromEntry(e *gildap.LDAPEntry) ObjectClass {
	classes := e.GetAttrVals("objectClass", nil)
	switch {
	case slices.Contains(classes, "group"):
		return ClassGroup
	case slices.Contains(classes, "computer"):
		return ClassComputer
	case slices.Contains(classes, "user") || slices.Contains(classes, "person"):
		return ClassUser
	}
	return ClassUnknown
}

func wellKnownPrincipal(sid string, wks gildap.WksDesc) Principal {
	class := ClassWellKnown
	if strings.EqualFold(wks.Type, "group") {
		class = ClassGroup
	}
	return Principal{SID: sid, Name: wks.Name, Class: class, Resolved: true}
}

func unresolvedPrincipal(sid string) Principal {
	return Principal{SID: sid, Name: sid, Class: ClassUnknown}
}
