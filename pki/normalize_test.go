package pki

import (
	"strconv"
	"testing"

	gildap "github.com/Macmod/adcslint/ldap"
)

func templateEntry(dn, name string, nameFlags, enrollFlags, signatures int64, ekus []string) *gildap.LDAPEntry {
	e := &gildap.LDAPEntry{
		DN: dn,
		Attributes: map[string][]string{
			"name":                          {name},
			"mspki-certificate-name-flag":   {strconv.FormatInt(nameFlags, 10)},
			"mspki-enrollment-flag":         {strconv.FormatInt(enrollFlags, 10)},
			"mspki-ra-signature":            {strconv.FormatInt(signatures, 10)},
			"mspki-template-schema-version": {"2"},
		},
		RawAttributes: map[string][][]byte{},
	}
	if ekus != nil {
		e.Attributes["pkiextendedkeyusage"] = ekus
	}
	return e
}

func TestTemplateFromEntry(t *testing.T) {
	tests := []struct {
		name        string
		nameFlags   int64
		enrollFlags int64
		signatures  int64
		ekus        []string
		check       func(t *testing.T, p *TemplateProps)
	}{
		{
			name:      "enrollee supplies subject",
			nameFlags: CertNameFlagEnrolleeSuppliesSubject,
			ekus:      []string{OIDClientAuthentication},
			check: func(t *testing.T, p *TemplateProps) {
				if !p.EnrolleeSuppliesSubject {
					t.Error("EnrolleeSuppliesSubject = false")
				}
				if !p.AuthenticationEKU {
					t.Error("AuthenticationEKU = false for client authentication")
				}
			},
		},
		{
			name:      "enrollee supplies subject alt name",
			nameFlags: CertNameFlagEnrolleeSuppliesSubjectAltName,
			check: func(t *testing.T, p *TemplateProps) {
				if !p.EnrolleeSuppliesSubject {
					t.Error("EnrolleeSuppliesSubject = false for the SAN variant")
				}
			},
		},
		{
			name: "any purpose implies authentication",
			ekus: []string{OIDAnyPurpose},
			check: func(t *testing.T, p *TemplateProps) {
				if !p.AnyPurposeEKU || !p.AuthenticationEKU {
					t.Errorf("AnyPurposeEKU = %v, AuthenticationEKU = %v, want both true",
						p.AnyPurposeEKU, p.AuthenticationEKU)
				}
			},
		},
		{
			name: "agent eku",
			ekus: []string{OIDCertificateRequestAgent},
			check: func(t *testing.T, p *TemplateProps) {
				if !p.AgentEKU {
					t.Error("AgentEKU = false")
				}
				if p.AuthenticationEKU {
					t.Error("agent EKU alone counted as authentication")
				}
			},
		},
		{
			name: "empty eku attribute means no eku constraint",
			ekus: []string{},
			check: func(t *testing.T, p *TemplateProps) {
				if !p.NoEKU {
					t.Error("NoEKU = false for a present but empty EKU attribute")
				}
			},
		},
		{
			name: "absent eku attribute",
			check: func(t *testing.T, p *TemplateProps) {
				if p.NoEKU {
					t.Error("NoEKU = true although the attribute was never returned")
				}
			},
		},
		{
			name:        "manager approval",
			enrollFlags: EnrollmentFlagPendAllRequests,
			check: func(t *testing.T, p *TemplateProps) {
				if !p.ManagerApproval {
					t.Error("ManagerApproval = false")
				}
			},
		},
		{
			name:        "security extension disabled",
			enrollFlags: EnrollmentFlagNoSecurityExtension,
			check: func(t *testing.T, p *TemplateProps) {
				if !p.NoSecurityExtension {
					t.Error("NoSecurityExtension = false")
				}
			},
		},
		{
			name:       "signatures required",
			signatures: 2,
			check: func(t *testing.T, p *TemplateProps) {
				if p.SignaturesRequired != 2 {
					t.Errorf("SignaturesRequired = %d, want 2", p.SignaturesRequired)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := templateEntry("CN=T,DC=corp,DC=local", "T", tc.nameFlags, tc.enrollFlags, tc.signatures, tc.ekus)

			obj, err := TemplateFromEntry(e, "CORP.LOCAL")
			if err == nil {
				t.Error("no error although the entry has no security descriptor")
			}
			if obj == nil || obj.Template == nil {
				t.Fatal("object not built despite missing security descriptor")
			}
			if obj.Security != nil {
				t.Error("Security set without a descriptor")
			}
			if obj.Class != ClassTemplate {
				t.Errorf("Class = %q, want template", obj.Class)
			}
			if obj.Template.SchemaVersion != 2 {
				t.Errorf("SchemaVersion = %d, want 2", obj.Template.SchemaVersion)
			}
			tc.check(t, obj.Template)
		})
	}
}

func TestLinkTemplatesToAuthorities(t *testing.T) {
	published := &PkiObject{
		Name:     "WebServer",
		Class:    ClassTemplate,
		Template: &TemplateProps{},
	}
	orphan := &PkiObject{
		Name:     "OldTemplate",
		Class:    ClassTemplate,
		Template: &TemplateProps{},
	}

	authorities := []gildap.LDAPEntry{
		{
			DN: "CN=CORP-CA,CN=Enrollment Services,CN=Public Key Services,CN=Services,CN=Configuration,DC=corp,DC=local",
			Attributes: map[string][]string{
				"name":                 {"CORP-CA"},
				"certificatetemplates": {"webserver", "User"}, // published names are matched case-insensitively
			},
		},
		{
			DN: "CN=SUB-CA,CN=Enrollment Services,CN=Public Key Services,CN=Services,CN=Configuration,DC=corp,DC=local",
			Attributes: map[string][]string{
				"name":                 {"SUB-CA"},
				"certificatetemplates": {"WebServer"},
			},
		},
	}

	LinkTemplatesToAuthorities([]*PkiObject{published, orphan}, authorities)

	if !published.Template.Enabled {
		t.Error("published template not marked enabled")
	}
	if len(published.Template.EnabledOn) != 2 {
		t.Errorf("EnabledOn = %v, want both authorities", published.Template.EnabledOn)
	}
	if orphan.Template.Enabled {
		t.Error("unpublished template marked enabled")
	}
}

func TestApplyAuthorityState(t *testing.T) {
	san := true
	audit := 127
	enforced := false

	ca := &PkiObject{
		Name:      "CORP-CA",
		Class:     ClassAuthority,
		Authority: &AuthorityProps{CAName: "CORP-CA"},
	}
	other := &PkiObject{
		Name:      "SUB-CA",
		Class:     ClassAuthority,
		Authority: &AuthorityProps{CAName: "SUB-CA"},
	}

	ApplyAuthorityState([]*PkiObject{ca, other}, map[string]AuthorityState{
		// State files are written by hand; match names case-insensitively.
		"corp-ca": {
			SANFlag:               &san,
			AuditFilter:           &audit,
			RPCEncryptionEnforced: &enforced,
		},
	})

	if ca.Authority.SANFlag == nil || !*ca.Authority.SANFlag {
		t.Error("SANFlag not merged")
	}
	if ca.Authority.AuditFilter == nil || *ca.Authority.AuditFilter != 127 {
		t.Error("AuditFilter not merged")
	}
	if ca.Authority.RPCEncryptionEnforced == nil || *ca.Authority.RPCEncryptionEnforced {
		t.Error("RPCEncryptionEnforced not merged")
	}
	if ca.Authority.WebEnrollmentHTTP != nil {
		t.Error("uncollected WebEnrollmentHTTP materialized")
	}

	if other.Authority.SANFlag != nil || other.Authority.AuditFilter != nil {
		t.Errorf("state leaked onto an unrelated authority: %+v", other.Authority)
	}
}

func TestAuthorityFullName(t *testing.T) {
	tests := []struct {
		name  string
		props AuthorityProps
		want  string
	}{
		{"host and ca name", AuthorityProps{CAName: "CORP-CA", DNSHostName: "ca01.corp.local"}, "ca01.corp.local\\CORP-CA"},
		{"ca name only", AuthorityProps{CAName: "CORP-CA"}, "CORP-CA"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.props.FullName(); got != tc.want {
				t.Errorf("FullName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBoolPropSchema(t *testing.T) {
	// Every default-catalog property must exist, and properties read off the
	// wrong object kind must report not-ok rather than a zero value.
	tmpl := &PkiObject{Class: ClassTemplate, Template: &TemplateProps{Enabled: true}}
	ca := &PkiObject{Class: ClassAuthority, Authority: &AuthorityProps{}}

	read, ok := LookupBoolProp("TemplateEnabled")
	if !ok {
		t.Fatal("TemplateEnabled missing from the schema")
	}
	if v, ok := read(tmpl); !ok || !v {
		t.Errorf("TemplateEnabled on a template = %v, %v", v, ok)
	}
	if _, ok := read(ca); ok {
		t.Error("TemplateEnabled materialized on an authority")
	}

	read, ok = LookupBoolProp("SANFlagEnabled")
	if !ok {
		t.Fatal("SANFlagEnabled missing from the schema")
	}
	if _, ok := read(ca); ok {
		t.Error("SANFlagEnabled materialized without collected state")
	}

	if _, ok := LookupBoolProp("NoSuchProperty"); ok {
		t.Error("unknown property resolved")
	}
	if _, ok := LookupListProp("LowPrivEnrollees"); !ok {
		t.Error("LowPrivEnrollees missing from the schema")
	}
}

func TestNonStandardOwnersList(t *testing.T) {
	read, ok := LookupListProp("NonStandardOwners")
	if !ok {
		t.Fatal("NonStandardOwners missing from the schema")
	}

	ownerSID := "S-1-5-21-1-2-3-1104"
	tests := []struct {
		name string
		obj  *PkiObject
		want int
	}{
		{
			"non-standard owner",
			&PkiObject{Security: &SecurityInfo{OwnerSID: ownerSID}, NonStandardOwner: true},
			1,
		},
		{
			"standard owner",
			&PkiObject{Security: &SecurityInfo{OwnerSID: "S-1-5-21-1-2-3-512"}},
			0,
		},
		{
			"no security descriptor",
			&PkiObject{NonStandardOwner: true},
			0,
		},
		{
			"empty owner",
			&PkiObject{Security: &SecurityInfo{}, NonStandardOwner: true},
			0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := read(tc.obj)
			if len(got) != tc.want {
				t.Fatalf("list = %v, want %d entries", got, tc.want)
			}
			if tc.want == 1 && got[0] != ownerSID {
				t.Errorf("list = %v, want [%s]", got, ownerSID)
			}
		})
	}
}
