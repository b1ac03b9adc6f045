package pki

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectClass identifies which of the four analyzed object kinds a
// directory object belongs to.
type ObjectClass string

const (
	ClassTemplate  ObjectClass = "template"
	ClassAuthority ObjectClass = "authority"
	ClassContainer ObjectClass = "container"
	ClassComputer  ObjectClass = "computer"
)

// Ace is one discretionary ACL entry in the form the classifier consumes.
type Ace struct {
	PrincipalSID   string
	Deny           bool
	Mask           uint32
	ObjectTypeGUID string // lowercase; empty when the ACE carries no object type
	Inherited      bool
}

// SecurityInfo is the owner plus DACL of an object. Nil DACL means the
// attribute was not returned, which is distinct from an empty DACL.
type SecurityInfo struct {
	OwnerSID string
	Aces     []Ace
}

// TemplateProps carries the typed state of a certificate template.
type TemplateProps struct {
	SchemaVersion           int
	EnrolleeSuppliesSubject bool
	AuthenticationEKU       bool
	AnyPurposeEKU           bool
	NoEKU                   bool
	AgentEKU                bool
	ManagerApproval         bool
	SignaturesRequired      int
	NoSecurityExtension     bool
	Enabled                 bool
	EnabledOn               []string // authorities publishing this template
}

// AuthorityProps carries the typed state of an enrollment authority.
// Registry-sourced flags are pointers: nil means the preceding collection
// step could not materialize the value, and rules depending on it skip the
// object instead of guessing.
type AuthorityProps struct {
	CAName                string
	DNSHostName           string
	SANFlag               *bool // EDITF_ATTRIBUTESUBJECTALTNAME2
	AuditFilter           *int
	RPCEncryptionEnforced *bool // IF_ENFORCEENCRYPTICERTREQUEST
	WebEnrollmentHTTP     *bool
	Administrators        []string // SIDs holding ManageCA
	CertificateManagers   []string // SIDs holding ManageCertificates
}

// FullName renders the host\name form used in remediation scripts.
func (a *AuthorityProps) FullName() string {
	if a.DNSHostName == "" {
		return a.CAName
	}
	return a.DNSHostName + "\\" + a.CAName
}

// PkiObject is one analyzed directory object. The distinguished name is the
// stable join key between collection, classification and the issue store.
// Objects are immutable once classification has annotated them.
type PkiObject struct {
	DN       string
	Name     string
	Class    ObjectClass
	Forest   string
	Security *SecurityInfo

	Template  *TemplateProps
	Authority *AuthorityProps

	// Principal lists filled by the classification pass.
	NonStandardOwner       bool
	LowPrivEnrollees       []string
	DangerousACLPrincipals []string
	LowPrivAdministrators  []string
	LowPrivCertManagers    []string
}

// Aces returns the object's DACL entries and whether an ACL is available
// at all.
func (o *PkiObject) Aces() ([]Ace, bool) {
	if o.Security == nil {
		return nil, false
	}
	return o.Security.Aces, true
}

// BoolProp reads a named boolean property off an object. The second return
// is false when the property cannot be materialized for this object (wrong
// kind, or an uncollected authority flag).
type BoolProp func(o *PkiObject) (value bool, ok bool)

// ListProp reads a named principal-list property off an object.
type ListProp func(o *PkiObject) []string

var boolProps = map[string]BoolProp{
	"SANAllowed":                   templateBool(func(t *TemplateProps) bool { return t.EnrolleeSuppliesSubject }),
	"AuthenticationEKU":            templateBool(func(t *TemplateProps) bool { return t.AuthenticationEKU }),
	"AnyPurposeEKU":                templateBool(func(t *TemplateProps) bool { return t.AnyPurposeEKU }),
	"NoEKU":                        templateBool(func(t *TemplateProps) bool { return t.NoEKU }),
	"AgentEKU":                     templateBool(func(t *TemplateProps) bool { return t.AgentEKU }),
	"ManagerApprovalRequired":      templateBool(func(t *TemplateProps) bool { return t.ManagerApproval }),
	"AuthorizedSignaturesRequired": templateBool(func(t *TemplateProps) bool { return t.SignaturesRequired > 0 }),
	"NoSecurityExtension":          templateBool(func(t *TemplateProps) bool { return t.NoSecurityExtension }),
	"TemplateEnabled":              templateBool(func(t *TemplateProps) bool { return t.Enabled }),
	"SANFlagEnabled": authorityBool(func(a *AuthorityProps) (bool, bool) {
		if a.SANFlag == nil {
			return false, false
		}
		return *a.SANFlag, true
	}),
	"AuditingDisabled": authorityBool(func(a *AuthorityProps) (bool, bool) {
		if a.AuditFilter == nil {
			return false, false
		}
		return *a.AuditFilter == 0, true
	}),
	"RPCEncryptionNotEnforced": authorityBool(func(a *AuthorityProps) (bool, bool) {
		if a.RPCEncryptionEnforced == nil {
			return false, false
		}
		return !*a.RPCEncryptionEnforced, true
	}),
	"WebEnrollmentHTTP": authorityBool(func(a *AuthorityProps) (bool, bool) {
		if a.WebEnrollmentHTTP == nil {
			return false, false
		}
		return *a.WebEnrollmentHTTP, true
	}),
	"NonStandardOwner": func(o *PkiObject) (bool, bool) {
		if o.Security == nil {
			return false, false
		}
		return o.NonStandardOwner, true
	},
}

var listProps = map[string]ListProp{
	"LowPrivEnrollees":       func(o *PkiObject) []string { return o.LowPrivEnrollees },
	"DangerousACLPrincipals": func(o *PkiObject) []string { return o.DangerousACLPrincipals },
	"LowPrivAdministrators":  func(o *PkiObject) []string { return o.LowPrivAdministrators },
	"LowPrivCertManagers":    func(o *PkiObject) []string { return o.LowPrivCertManagers },
	"NonStandardOwners": func(o *PkiObject) []string {
		if !o.NonStandardOwner || o.Security == nil || o.Security.OwnerSID == "" {
			return nil
		}
		return []string{o.Security.OwnerSID}
	},
}

func templateBool(get func(*TemplateProps) bool) BoolProp {
	return func(o *PkiObject) (bool, bool) {
		if o.Template == nil {
			return false, false
		}
		return get(o.Template), true
	}
}

func authorityBool(get func(*AuthorityProps) (bool, bool)) BoolProp {
	return func(o *PkiObject) (bool, bool) {
		if o.Authority == nil {
			return false, false
		}
		return get(o.Authority)
	}
}

// LookupBoolProp maps a rule's declared property name to a typed accessor.
// Rule catalogs are validated against this schema once at load time.
func LookupBoolProp(name string) (BoolProp, bool) {
	p, ok := boolProps[name]
	return p, ok
}

// LookupListProp maps a rule's declared principal-list name to an accessor.
func LookupListProp(name string) (ListProp, bool) {
	p, ok := listProps[name]
	return p, ok
}

// PropertyNames returns the schema's property names, sorted, for error
// messages when a catalog references an unknown property.
func PropertyNames() string {
	names := make([]string, 0, len(boolProps)+len(listProps))
	for n := range boolProps {
		names = append(names, n)
	}
	for n := range listProps {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// ParseClass maps a catalog object-class name to an ObjectClass.
func ParseClass(name string) (ObjectClass, error) {
	switch strings.ToLower(name) {
	case "template":
		return ClassTemplate, nil
	case "authority":
		return ClassAuthority, nil
	case "container":
		return ClassContainer, nil
	case "computer":
		return ClassComputer, nil
	}
	return "", fmt.Errorf("unknown object class %q", name)
}
