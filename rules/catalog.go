// Package rules implements the declarative vulnerability catalog and the
// engine that evaluates it against normalized PKI objects.
package rules

import (
	"fmt"
	"os"

	"github.com/Macmod/adcslint/pki"
	"gopkg.in/yaml.v3"
)

// Shape selects how a technique is evaluated.
type Shape string

const (
	// ShapeConfig techniques flag object state alone; findings carry no
	// offending principal.
	ShapeConfig Shape = "config"
	// ShapePrincipal techniques attribute findings to the principals found
	// on the object's precomputed principal lists.
	ShapePrincipal Shape = "principal"
)

// Condition is one boolean predicate on an object property. All conditions
// of a technique must hold for the technique to apply.
type Condition struct {
	Property string `yaml:"property"`
	Equals   bool   `yaml:"equals"`
}

// Technique is one declarative vulnerability definition. The issue, fix
// and revert fields are token templates; tokens only render text and never
// feed back into the match decision.
type Technique struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	Shape          Shape       `yaml:"shape"`
	ObjectClasses  []string    `yaml:"object_classes"`
	Conditions     []Condition `yaml:"conditions"`
	PrincipalLists []string    `yaml:"principal_lists"`
	Issue          string      `yaml:"issue"`
	Fix            string      `yaml:"fix"`
	Revert         string      `yaml:"revert"`
	References     []string    `yaml:"references,omitempty"`
}

// compiledCondition pairs a condition with its typed accessor, resolved
// once at load time.
type compiledCondition struct {
	property string
	want     bool
	read     pki.BoolProp
}

type compiledTechnique struct {
	def     Technique
	classes map[pki.ObjectClass]bool
	conds   []compiledCondition
	lists   []pki.ListProp
}

// Catalog is a validated set of techniques ready for evaluation.
type Catalog struct {
	techniques []compiledTechnique
}

// NewCatalog validates each technique against the object property schema
// and compiles accessors. A malformed technique is fatal for that
// technique only: it is dropped and reported in the returned error list,
// while the rest of the catalog still loads.
func NewCatalog(defs []Technique) (*Catalog, []error) {
	c := &Catalog{}
	var errs []error

	for _, def := range defs {
		compiled, err := compile(def)
		if err != nil {
			errs = append(errs, fmt.Errorf("technique %q: %w", def.ID, err))
			continue
		}
		c.techniques = append(c.techniques, compiled)
	}

	return c, errs
}

func compile(def Technique) (compiledTechnique, error) {
	ct := compiledTechnique{def: def, classes: make(map[pki.ObjectClass]bool)}

	if def.ID == "" {
		return ct, fmt.Errorf("missing technique id")
	}
	if def.Shape != ShapeConfig && def.Shape != ShapePrincipal {
		return ct, fmt.Errorf("unknown shape %q", def.Shape)
	}
	if len(def.ObjectClasses) == 0 {
		return ct, fmt.Errorf("no object classes declared")
	}

	for _, name := range def.ObjectClasses {
		class, err := pki.ParseClass(name)
		if err != nil {
			return ct, err
		}
		ct.classes[class] = true
	}

	for _, cond := range def.Conditions {
		read, ok := pki.LookupBoolProp(cond.Property)
		if !ok {
			return ct, fmt.Errorf("unknown property %q (known: %s)", cond.Property, pki.PropertyNames())
		}
		ct.conds = append(ct.conds, compiledCondition{
			property: cond.Property,
			want:     cond.Equals,
			read:     read,
		})
	}

	switch def.Shape {
	case ShapePrincipal:
		if len(def.PrincipalLists) == 0 {
			return ct, fmt.Errorf("principal-shaped technique declares no principal lists")
		}
		for _, name := range def.PrincipalLists {
			read, ok := pki.LookupListProp(name)
			if !ok {
				return ct, fmt.Errorf("unknown principal list %q (known: %s)", name, pki.PropertyNames())
			}
			ct.lists = append(ct.lists, read)
		}
	case ShapeConfig:
		if len(def.PrincipalLists) > 0 {
			return ct, fmt.Errorf("config-shaped technique must not declare principal lists")
		}
	}

	return ct, nil
}

// LoadTechniques reads technique definitions from a yaml file, or returns
// the built-in catalog when path is empty.
func LoadTechniques(path string) ([]Technique, error) {
	if path == "" {
		return DefaultTechniques(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read technique catalog: %w", err)
	}

	var defs []Technique
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse technique catalog: %w", err)
	}

	return defs, nil
}

// Techniques returns the ids of the loaded techniques, in catalog order.
func (c *Catalog) Techniques() []string {
	ids := make([]string, 0, len(c.techniques))
	for _, t := range c.techniques {
		ids = append(ids, t.def.ID)
	}
	return ids
}

// DefaultTechniques is the built-in catalog. Ids follow the commonly used
// ESC numbering for certificate service escalation paths.
func DefaultTechniques() []Technique {
	return []Technique{
		{
			ID:            "AUDIT",
			Name:          "Insufficient auditing",
			Shape:         ShapeConfig,
			ObjectClasses: []string{"authority"},
			Conditions: []Condition{
				{Property: "AuditingDisabled", Equals: true},
			},
			Issue:  "Auditing is not fully enabled on {CAFullName}. Issuance and management events will not be logged.",
			Fix:    "certutil -config '{CAFullName}' -setreg CA\\AuditFilter 127; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
			Revert: "certutil -config '{CAFullName}' -setreg CA\\AuditFilter 0; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
		},
		{
			ID:             "ESC1",
			Name:           "Enrollee-supplied subject with authentication",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"template"},
			PrincipalLists: []string{"LowPrivEnrollees"},
			Conditions: []Condition{
				{Property: "TemplateEnabled", Equals: true},
				{Property: "SANAllowed", Equals: true},
				{Property: "AuthenticationEKU", Equals: true},
				{Property: "ManagerApprovalRequired", Equals: false},
				{Property: "AuthorizedSignaturesRequired", Equals: false},
			},
			Issue:  "{Principal} can enroll in template {Name} with a subject they choose and use the certificate to authenticate as any principal. Right: {Right}. Published on: {EnabledOn}.",
			Fix:    "Get-ADObject '{DistinguishedName}' | Set-ADObject -Replace @{'msPKI-Certificate-Name-Flag' = 0}",
			Revert: "Get-ADObject '{DistinguishedName}' | Set-ADObject -Replace @{'msPKI-Certificate-Name-Flag' = 1}",
		},
		{
			ID:             "ESC2",
			Name:           "Any-purpose EKU template",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"template"},
			PrincipalLists: []string{"LowPrivEnrollees"},
			Conditions: []Condition{
				{Property: "TemplateEnabled", Equals: true},
				{Property: "AnyPurposeEKU", Equals: true},
				{Property: "ManagerApprovalRequired", Equals: false},
				{Property: "AuthorizedSignaturesRequired", Equals: false},
			},
			Issue:  "{Principal} can enroll in template {Name} which issues any-purpose certificates usable for authentication and signing alike. Right: {Right}.",
			Fix:    "First, eliminate unused templates based on this EKU. Then, constrain '{Name}' to the EKUs actually required.",
			Revert: "Restore the original pKIExtendedKeyUsage value on '{DistinguishedName}'.",
		},
		{
			ID:             "ESC3",
			Name:           "Enrollment agent template",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"template"},
			PrincipalLists: []string{"LowPrivEnrollees"},
			Conditions: []Condition{
				{Property: "TemplateEnabled", Equals: true},
				{Property: "AgentEKU", Equals: true},
				{Property: "ManagerApprovalRequired", Equals: false},
				{Property: "AuthorizedSignaturesRequired", Equals: false},
			},
			Issue:  "{Principal} can enroll in agent template {Name} and then request certificates on behalf of other principals. Right: {Right}.",
			Fix:    "Get-ADObject '{DistinguishedName}' | Set-ADObject -Replace @{'msPKI-Enrollment-Flag' = 2}",
			Revert: "Get-ADObject '{DistinguishedName}' | Set-ADObject -Replace @{'msPKI-Enrollment-Flag' = 0}",
		},
		{
			ID:             "ESC4",
			Name:           "Dangerous template access control",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"template"},
			PrincipalLists: []string{"DangerousACLPrincipals", "NonStandardOwners"},
			Conditions: []Condition{
				{Property: "TemplateEnabled", Equals: true},
			},
			Issue:  "{Principal} holds {Right} over template {Name} and can rewrite it into an exploitable state.",
			Fix:    "Remove the offending access-control entry for {Principal} from '{DistinguishedName}', or reassign ownership to a standard administrative account.",
			Revert: "Re-add the removed access-control entry for {Principal} to '{DistinguishedName}'.",
		},
		{
			ID:             "ESC5",
			Name:           "Dangerous PKI object access control",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"authority", "container", "computer"},
			PrincipalLists: []string{"DangerousACLPrincipals", "NonStandardOwners"},
			Issue:          "{Principal} holds {Right} over PKI object {Name} ({DistinguishedName}) and can subvert the certificate hierarchy through it.",
			Fix:            "Remove the offending access-control entry for {Principal} from '{DistinguishedName}', or reassign ownership to a standard administrative account.",
			Revert:         "Re-add the removed access-control entry for {Principal} to '{DistinguishedName}'.",
		},
		{
			ID:            "ESC6",
			Name:          "Attribute subject alternative name flag",
			Shape:         ShapeConfig,
			ObjectClasses: []string{"authority"},
			Conditions: []Condition{
				{Property: "SANFlagEnabled", Equals: true},
			},
			Issue:  "{CAFullName} accepts requester-supplied subject alternative names on every template it serves (EDITF_ATTRIBUTESUBJECTALTNAME2).",
			Fix:    "certutil -config '{CAFullName}' -setreg policy\\EditFlags -EDITF_ATTRIBUTESUBJECTALTNAME2; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
			Revert: "certutil -config '{CAFullName}' -setreg policy\\EditFlags +EDITF_ATTRIBUTESUBJECTALTNAME2; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
		},
		{
			ID:             "ESC7",
			Name:           "Dangerous authority role assignment",
			Shape:          ShapePrincipal,
			ObjectClasses:  []string{"authority"},
			PrincipalLists: []string{"LowPrivAdministrators", "LowPrivCertManagers"},
			Issue:          "{Principal} holds an administrative role ({Right}) on authority {CAFullName} and can approve or issue arbitrary certificates.",
			Fix:            "Remove {Principal} from the authority's security configuration via the Certification Authority console on '{Name}'.",
			Revert:         "Re-grant {Right} to {Principal} on '{CAFullName}'.",
		},
		{
			ID:            "ESC8",
			Name:          "Web enrollment over cleartext transport",
			Shape:         ShapeConfig,
			ObjectClasses: []string{"authority"},
			Conditions: []Condition{
				{Property: "WebEnrollmentHTTP", Equals: true},
			},
			Issue:  "{CAFullName} exposes web enrollment over HTTP, enabling relay of coerced authentication into certificate issuance.",
			Fix:    "Disable the web enrollment role on '{Name}', or require HTTPS with extended protection for authentication.",
			Revert: "Re-enable HTTP web enrollment on '{Name}'.",
		},
		{
			ID:            "ESC11",
			Name:          "Unencrypted enrollment interface",
			Shape:         ShapeConfig,
			ObjectClasses: []string{"authority"},
			Conditions: []Condition{
				{Property: "RPCEncryptionNotEnforced", Equals: true},
			},
			Issue:  "{CAFullName} does not enforce encryption on its RPC enrollment interface (IF_ENFORCEENCRYPTICERTREQUEST is clear), enabling relay into certificate issuance.",
			Fix:    "certutil -config '{CAFullName}' -setreg CA\\InterfaceFlags +IF_ENFORCEENCRYPTICERTREQUEST; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
			Revert: "certutil -config '{CAFullName}' -setreg CA\\InterfaceFlags -IF_ENFORCEENCRYPTICERTREQUEST; Invoke-Command -ComputerName '{Name}' -ScriptBlock { Get-Service -Name 'certsvc' | Restart-Service -Force }",
		},
	}
}
