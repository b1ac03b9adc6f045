package rules

import (
	"context"
	"strings"

	"github.com/Macmod/adcslint/issues"
	"github.com/Macmod/adcslint/perms"
	"github.com/Macmod/adcslint/pki"
	"github.com/rs/zerolog"
)

// NameResolver renders display names for offending principals. Resolution
// failure is non-fatal; implementations return the raw SID in that case.
type NameResolver interface {
	ToAccountName(ctx context.Context, sid string) string
}

// Engine evaluates the technique catalog against normalized objects and
// feeds findings into the issue store. Evaluation is idempotent: running
// it twice over the same objects leaves the store unchanged.
type Engine struct {
	catalog *Catalog
	perms   *perms.Catalog
	store   *issues.Store
	names   NameResolver
	log     zerolog.Logger
}

func NewEngine(catalog *Catalog, permCatalog *perms.Catalog, store *issues.Store, names NameResolver, log zerolog.Logger) *Engine {
	return &Engine{
		catalog: catalog,
		perms:   permCatalog,
		store:   store,
		names:   names,
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// Evaluate runs every loaded technique over the objects and returns the
// number of findings newly added to the store.
func (e *Engine) Evaluate(ctx context.Context, objects []*pki.PkiObject) int {
	added := 0
	for i := range e.catalog.techniques {
		t := &e.catalog.techniques[i]
		for _, obj := range objects {
			for _, f := range e.evaluate(ctx, t, obj) {
				if e.store.Add(f) {
					added++
				}
			}
		}
	}
	return added
}

// EvaluateTechnique runs a single technique by id, for callers auditing
// one vulnerability class at a time.
func (e *Engine) EvaluateTechnique(ctx context.Context, id string, objects []*pki.PkiObject) []issues.Finding {
	var out []issues.Finding
	for i := range e.catalog.techniques {
		t := &e.catalog.techniques[i]
		if t.def.ID != id {
			continue
		}
		for _, obj := range objects {
			for _, f := range e.evaluate(ctx, t, obj) {
				if e.store.Add(f) {
					out = append(out, f)
				}
			}
		}
	}
	return out
}

func (e *Engine) evaluate(ctx context.Context, t *compiledTechnique, obj *pki.PkiObject) []issues.Finding {
	if !t.classes[obj.Class] {
		return nil
	}

	for _, cond := range t.conds {
		value, ok := cond.read(obj)
		if !ok {
			e.log.Trace().Str("technique", t.def.ID).Str("object", obj.DN).
				Str("property", cond.property).Msg("skipping object, property not materialized")
			return nil
		}
		if value != cond.want {
			return nil
		}
	}

	if t.def.Shape == ShapeConfig {
		return []issues.Finding{e.render(t, obj, "", "", "")}
	}

	var out []issues.Finding
	for _, sid := range principalUnion(t.lists, obj) {
		right, ok := grantedRight(obj, sid)
		if !ok {
			e.log.Trace().Str("technique", t.def.ID).Str("object", obj.DN).
				Str("sid", sid).Msg("skipping principal, no matching ACL entry or ownership")
			continue
		}

		name := e.names.ToAccountName(ctx, sid)
		out = append(out, e.render(t, obj, name, sid, right))
	}
	return out
}

// grantedRight names the strongest access the SID holds on the object.
// The first allow entry wins; ownership counts even without an explicit
// entry, since the owner controls the DACL regardless. A principal with
// neither is skipped rather than attributed a fabricated permission.
func grantedRight(obj *pki.PkiObject, sid string) (string, bool) {
	if ace, ok := matchAce(obj, sid); ok {
		return perms.RightName(ace, obj.Class), true
	}
	if obj.Security != nil && strings.EqualFold(obj.Security.OwnerSID, sid) {
		return perms.OwnerRight, true
	}
	return "", false
}

// principalUnion merges the technique's declared principal lists into one
// deduplicated set, preserving first-seen order.
func principalUnion(lists []pki.ListProp, obj *pki.PkiObject) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, sid := range list(obj) {
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			out = append(out, sid)
		}
	}
	return out
}

// matchAce finds the first allow entry granted to the SID, in stable input
// order. No entry means the principal is skipped rather than attributed a
// fabricated permission.
func matchAce(obj *pki.PkiObject, sid string) (pki.Ace, bool) {
	aces, ok := obj.Aces()
	if !ok {
		return pki.Ace{}, false
	}
	for _, a := range aces {
		if !a.Deny && strings.EqualFold(a.PrincipalSID, sid) {
			return a, true
		}
	}
	return pki.Ace{}, false
}

// render expands the technique's text templates. Substitution is literal
// string replacement over display text only; the match decision was made
// before this point and is never derived from rendered output.
func (e *Engine) render(t *compiledTechnique, obj *pki.PkiObject, name, sid, right string) issues.Finding {
	caFullName := obj.Name
	var enabledOn []string
	if obj.Authority != nil {
		caFullName = obj.Authority.FullName()
	}
	if obj.Template != nil {
		enabledOn = obj.Template.EnabledOn
	}

	r := strings.NewReplacer(
		"{Name}", obj.Name,
		"{DistinguishedName}", obj.DN,
		"{CAFullName}", caFullName,
		"{Principal}", name,
		"{SID}", sid,
		"{Right}", right,
		"{Forest}", obj.Forest,
		"{EnabledOn}", strings.Join(enabledOn, ", "),
	)

	return issues.Finding{
		Technique:     t.def.ID,
		Forest:        obj.Forest,
		ObjectName:    obj.Name,
		ObjectDN:      obj.DN,
		ObjectClass:   string(obj.Class),
		PrincipalName: name,
		PrincipalSID:  sid,
		Right:         right,
		EnabledOn:     enabledOn,
		Issue:         r.Replace(t.def.Issue),
		Fix:           r.Replace(t.def.Fix),
		Revert:        r.Replace(t.def.Revert),
	}
}
