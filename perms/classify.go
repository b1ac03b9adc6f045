package perms

import (
	"slices"
	"strings"

	"github.com/Macmod/adcslint/pki"
)

// AceClassification is the verdict for one access control entry.
type AceClassification struct {
	Dangerous   bool
	Permission  string
	Description string
}

// ClassifyAce evaluates one ACE against the catalog for the given object
// class. Deny entries are protective, never dangerous. For allow entries
// the first applicable rule whose right matches wins; rules gating on a
// property GUID are skipped unless the ACE targets exactly that property.
func (c *Catalog) ClassifyAce(a pki.Ace, class pki.ObjectClass) AceClassification {
	if a.Deny {
		return AceClassification{}
	}

	for _, rule := range c.rules {
		if !slices.Contains(rule.ObjectClasses, string(class)) {
			continue
		}

		if !rightMatchers[rule.Right](a, class) {
			continue
		}

		if rule.PropertyGUID != "" {
			if a.ObjectTypeGUID != rule.PropertyGUID {
				continue
			}
		} else if rule.Right == "WriteProperty" && a.ObjectTypeGUID != "" {
			// A write scoped to some other property is not a blanket
			// property write.
			continue
		}

		return AceClassification{
			Dangerous:   true,
			Permission:  rule.Name,
			Description: rule.Description,
		}
	}

	return AceClassification{}
}

// MatchesSIDPattern reports whether a SID matches any pattern. Patterns are
// either exact SIDs or RID suffixes anchored with a leading dash, so "-512"
// matches any domain's Domain Admins.
func MatchesSIDPattern(sid string, patterns []string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "-") {
			if strings.HasSuffix(sid, p) {
				return true
			}
			continue
		}
		if strings.EqualFold(sid, p) {
			return true
		}
	}
	return false
}

// DefaultStandardOwners are the owners considered unremarkable for PKI
// objects: Local System plus the privileged administrative RIDs.
func DefaultStandardOwners() []string {
	return []string{
		"S-1-5-18", // Local System
		"-500",     // built-in Administrator
		"-512",     // Domain Admins
		"-516",     // Domain Controllers
		"-517",     // Cert Publishers
		"-519",     // Enterprise Admins
		"-544",     // Administrators
	}
}

// DefaultLowPrivPatterns are principals that effectively mean "everybody":
// a grant to any of them is exploitable by an unprivileged account.
func DefaultLowPrivPatterns() []string {
	return []string{
		"S-1-1-0",  // Everyone
		"S-1-5-7",  // Anonymous
		"S-1-5-11", // Authenticated Users
		"-513",     // Domain Users
		"-515",     // Domain Computers
		"-545",     // Users
	}
}

// ClassifyOwner reports whether an object owner is a standard owner. The
// owner may be given as a SID or an account name; resolve converts a name
// to a SID and may be nil when callers always pass SIDs. Owners that cannot
// be resolved classify as non-standard: fail closed toward flagging.
func ClassifyOwner(owner string, patterns []string, resolve func(name string) (string, error)) bool {
	if owner == "" {
		return false
	}

	sid := owner
	if !strings.HasPrefix(strings.ToUpper(owner), "S-1-") {
		if resolve == nil {
			return false
		}
		resolved, err := resolve(owner)
		if err != nil || resolved == "" {
			return false
		}
		sid = resolved
	}

	return MatchesSIDPattern(sid, patterns)
}

// Annotate runs the classification pass over one object, filling its
// principal-list properties: low-privilege enrollees, principals holding
// catalog-dangerous rights, low-privilege CA role holders, and the owner
// verdict. Objects without an ACL are left untouched; the rule engine
// skips them per missing-attribute handling.
func Annotate(obj *pki.PkiObject, catalog *Catalog, lowPriv []string, standardOwners []string, resolve func(string) (string, error)) {
	if obj.Security == nil {
		return
	}

	obj.NonStandardOwner = !ClassifyOwner(obj.Security.OwnerSID, standardOwners, resolve)

	for _, a := range obj.Security.Aces {
		if a.Deny {
			continue
		}
		if !MatchesSIDPattern(a.PrincipalSID, lowPriv) {
			continue
		}

		if cls := catalogClassify(catalog, a, obj.Class); cls.Dangerous {
			obj.DangerousACLPrincipals = appendUnique(obj.DangerousACLPrincipals, a.PrincipalSID)
		}

		if obj.Class == pki.ClassTemplate || obj.Class == pki.ClassAuthority {
			if IsEnrollmentRight(RightName(a, obj.Class)) {
				obj.LowPrivEnrollees = appendUnique(obj.LowPrivEnrollees, a.PrincipalSID)
			}
		}
	}

	if obj.Authority != nil {
		for _, sid := range obj.Authority.Administrators {
			if MatchesSIDPattern(sid, lowPriv) {
				obj.LowPrivAdministrators = appendUnique(obj.LowPrivAdministrators, sid)
			}
		}
		for _, sid := range obj.Authority.CertificateManagers {
			if MatchesSIDPattern(sid, lowPriv) {
				obj.LowPrivCertManagers = appendUnique(obj.LowPrivCertManagers, sid)
			}
		}
	}
}

func catalogClassify(catalog *Catalog, a pki.Ace, class pki.ObjectClass) AceClassification {
	if catalog == nil {
		return AceClassification{}
	}
	return catalog.ClassifyAce(a, class)
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
