package pki

import (
	"fmt"
	"os"
	"slices"
	"strings"

	gildap "github.com/Macmod/adcslint/ldap"
	"gopkg.in/yaml.v3"
)

// CA management rights live in the low bits of the access mask on
// enrollment authority ACEs.
const (
	caRightManageCA           = 0x00000001
	caRightManageCertificates = 0x00000002
	caRightEnroll             = 0x00000200
)

// TemplateFromEntry normalizes a pKICertificateTemplate entry. The returned
// object is valid even when the security descriptor fails to parse; the
// error reports why the ACL is unavailable so the caller can trace the skip.
func TemplateFromEntry(e *gildap.LDAPEntry, forest string) (*PkiObject, error) {
	nameFlags := e.GetIntVal("msPKI-Certificate-Name-Flag", 0)
	enrollFlags := e.GetIntVal("msPKI-Enrollment-Flag", 0)
	ekus := e.GetAttrVals("pKIExtendedKeyUsage", nil)

	props := &TemplateProps{
		SchemaVersion: int(e.GetIntVal("msPKI-Template-Schema-Version", 1)),
		EnrolleeSuppliesSubject: nameFlags&CertNameFlagEnrolleeSuppliesSubject != 0 ||
			nameFlags&CertNameFlagEnrolleeSuppliesSubjectAltName != 0,
		AuthenticationEKU:   containsAny(ekus, AuthenticationOIDs),
		AnyPurposeEKU:       slices.Contains(ekus, OIDAnyPurpose),
		NoEKU:               e.HasAttr("pKIExtendedKeyUsage") && len(ekus) == 0,
		AgentEKU:            slices.Contains(ekus, OIDCertificateRequestAgent),
		ManagerApproval:     enrollFlags&EnrollmentFlagPendAllRequests != 0,
		SignaturesRequired:  int(e.GetIntVal("msPKI-RA-Signature", 0)),
		NoSecurityExtension: enrollFlags&EnrollmentFlagNoSecurityExtension != 0,
	}

	obj := &PkiObject{
		DN:       e.DN,
		Name:     e.GetAttrVal("name", e.GetAttrVal("cn", "")),
		Class:    ClassTemplate,
		Forest:   forest,
		Template: props,
	}

	return obj, attachSecurity(obj, e)
}

// AuthorityFromEntry normalizes a pKIEnrollmentService entry. Registry-only
// state (SAN flag, audit filter, interface flags) is not available over
// LDAP and stays nil until ApplyAuthorityState merges it in.
func AuthorityFromEntry(e *gildap.LDAPEntry, forest string) (*PkiObject, error) {
	props := &AuthorityProps{
		CAName:      e.GetAttrVal("name", e.GetAttrVal("cn", "")),
		DNSHostName: e.GetAttrVal("dNSHostName", ""),
	}

	obj := &PkiObject{
		DN:        e.DN,
		Name:      props.CAName,
		Class:     ClassAuthority,
		Forest:    forest,
		Authority: props,
	}

	err := attachSecurity(obj, e)

	// Role holders are read off the CA's own ACL mask bits.
	if obj.Security != nil {
		for _, a := range obj.Security.Aces {
			if a.Deny {
				continue
			}
			if a.Mask&caRightManageCA != 0 {
				props.Administrators = appendUnique(props.Administrators, a.PrincipalSID)
			}
			if a.Mask&caRightManageCertificates != 0 {
				props.CertificateManagers = appendUnique(props.CertificateManagers, a.PrincipalSID)
			}
		}
	}

	return obj, err
}

// ContainerFromEntry normalizes a PKI container object.
func ContainerFromEntry(e *gildap.LDAPEntry, forest string) (*PkiObject, error) {
	obj := &PkiObject{
		DN:     e.DN,
		Name:   e.GetAttrVal("name", e.GetAttrVal("cn", "")),
		Class:  ClassContainer,
		Forest: forest,
	}

	return obj, attachSecurity(obj, e)
}

// ComputerFromEntry normalizes a CA host computer account.
func ComputerFromEntry(e *gildap.LDAPEntry, forest string) (*PkiObject, error) {
	obj := &PkiObject{
		DN:     e.DN,
		Name:   strings.TrimSuffix(e.GetAttrVal("sAMAccountName", e.GetAttrVal("name", "")), "$"),
		Class:  ClassComputer,
		Forest: forest,
	}

	return obj, attachSecurity(obj, e)
}

func attachSecurity(obj *PkiObject, e *gildap.LDAPEntry) error {
	raw := e.GetSecurityDescriptor()
	if raw == nil {
		return fmt.Errorf("no security descriptor returned for %q", obj.DN)
	}

	info, err := ParseSecurityDescriptor(raw)
	if err != nil {
		return fmt.Errorf("security descriptor of %q: %w", obj.DN, err)
	}

	obj.Security = info
	return nil
}

// LinkTemplatesToAuthorities fills EnabledOn on each template from the
// certificateTemplates attribute of the authority entries.
func LinkTemplatesToAuthorities(templates []*PkiObject, authorityEntries []gildap.LDAPEntry) {
	published := make(map[string][]string)
	for i := range authorityEntries {
		e := &authorityEntries[i]
		caName := e.GetAttrVal("name", "")
		for _, tmpl := range e.GetAttrVals("certificateTemplates", nil) {
			key := strings.ToUpper(tmpl)
			published[key] = append(published[key], caName)
		}
	}

	for _, t := range templates {
		if t.Template == nil {
			continue
		}
		if cas, ok := published[strings.ToUpper(t.Name)]; ok {
			t.Template.Enabled = true
			t.Template.EnabledOn = cas
		}
	}
}

// AuthorityState is per-CA state collected out-of-band (registry reads on
// the CA host) and merged into authority objects before evaluation.
type AuthorityState struct {
	SANFlag               *bool `yaml:"san_flag"`
	AuditFilter           *int  `yaml:"audit_filter"`
	RPCEncryptionEnforced *bool `yaml:"rpc_encryption_enforced"`
	WebEnrollmentHTTP     *bool `yaml:"web_enrollment_http"`
}

// LoadAuthorityState reads a yaml map of CA name to collected state.
func LoadAuthorityState(path string) (map[string]AuthorityState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]AuthorityState)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse authority state %q: %w", path, err)
	}

	return out, nil
}

// ApplyAuthorityState merges collected per-CA state into authority objects,
// matching by CA name case-insensitively.
func ApplyAuthorityState(objects []*PkiObject, states map[string]AuthorityState) {
	if len(states) == 0 {
		return
	}

	byName := make(map[string]AuthorityState, len(states))
	for name, st := range states {
		byName[strings.ToUpper(name)] = st
	}

	for _, o := range objects {
		if o.Authority == nil {
			continue
		}
		st, ok := byName[strings.ToUpper(o.Authority.CAName)]
		if !ok {
			continue
		}
		o.Authority.SANFlag = st.SANFlag
		o.Authority.AuditFilter = st.AuditFilter
		o.Authority.RPCEncryptionEnforced = st.RPCEncryptionEnforced
		o.Authority.WebEnrollmentHTTP = st.WebEnrollmentHTTP
	}
}

func containsAny(haystack []string, needles []string) bool {
	for _, n := range needles {
		if slices.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
