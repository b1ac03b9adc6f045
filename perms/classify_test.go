package perms

import (
	"fmt"
	"testing"

	"github.com/Macmod/adcslint/pki"
)

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(DefaultRules())
	if err != nil {
		t.Fatalf("NewCatalog(DefaultRules()): %v", err)
	}
	return c
}

func TestClassifyAce(t *testing.T) {
	catalog := mustCatalog(t)

	tests := []struct {
		name          string
		ace           pki.Ace
		class         pki.ObjectClass
		wantDangerous bool
		wantPerm      string
	}{
		{
			name:          "generic all on template",
			ace:           pki.Ace{PrincipalSID: "S-1-5-21-1-2-3-1104", Mask: RightGenericAll},
			class:         pki.ClassTemplate,
			wantDangerous: true,
			wantPerm:      "GenericAll",
		},
		{
			name:          "write dacl on container",
			ace:           pki.Ace{PrincipalSID: "S-1-5-21-1-2-3-1104", Mask: RightWriteDacl},
			class:         pki.ClassContainer,
			wantDangerous: true,
			wantPerm:      "WriteDacl",
		},
		{
			name:          "deny generic all is never dangerous",
			ace:           pki.Ace{PrincipalSID: "S-1-5-21-1-2-3-1104", Mask: RightGenericAll, Deny: true},
			class:         pki.ClassTemplate,
			wantDangerous: false,
		},
		{
			name:          "deny write dacl is never dangerous",
			ace:           pki.Ace{PrincipalSID: "S-1-1-0", Mask: RightWriteDacl, Deny: true},
			class:         pki.ClassAuthority,
			wantDangerous: false,
		},
		{
			name:          "manage ca applies to authorities",
			ace:           pki.Ace{PrincipalSID: "S-1-5-21-1-2-3-1104", Mask: RightManageCA},
			class:         pki.ClassAuthority,
			wantDangerous: true,
			wantPerm:      "ManageCA",
		},
		{
			name:          "manage ca bit means nothing on a template",
			ace:           pki.Ace{PrincipalSID: "S-1-5-21-1-2-3-1104", Mask: RightManageCA},
			class:         pki.ClassTemplate,
			wantDangerous: false,
		},
		{
			name: "name flag write on template",
			ace: pki.Ace{
				PrincipalSID:   "S-1-5-21-1-2-3-1104",
				Mask:           RightWriteProperty,
				ObjectTypeGUID: pki.GUIDPKINameFlag,
			},
			class:         pki.ClassTemplate,
			wantDangerous: true,
			wantPerm:      "WritePKINameFlag",
		},
		{
			name: "enrollment flag write on template",
			ace: pki.Ace{
				PrincipalSID:   "S-1-5-21-1-2-3-1104",
				Mask:           RightWriteProperty,
				ObjectTypeGUID: pki.GUIDPKIEnrollmentFlag,
			},
			class:         pki.ClassTemplate,
			wantDangerous: true,
			wantPerm:      "WritePKIEnrollmentFlag",
		},
		{
			name: "property write scoped to a harmless property",
			ace: pki.Ace{
				PrincipalSID:   "S-1-5-21-1-2-3-1104",
				Mask:           RightWriteProperty,
				ObjectTypeGUID: "bf967950-0de6-11d0-a285-00aa003049e2",
			},
			class:         pki.ClassTemplate,
			wantDangerous: false,
		},
		{
			name: "name flag guid on an authority does not match",
			ace: pki.Ace{
				PrincipalSID:   "S-1-5-21-1-2-3-1104",
				Mask:           RightWriteProperty,
				ObjectTypeGUID: pki.GUIDPKINameFlag,
			},
			class:         pki.ClassAuthority,
			wantDangerous: false,
		},
		{
			name:          "plain enroll is not a dangerous acl right",
			ace:           pki.Ace{PrincipalSID: "S-1-1-0", Mask: RightExtendedRight, ObjectTypeGUID: pki.GUIDEnroll},
			class:         pki.ClassTemplate,
			wantDangerous: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := catalog.ClassifyAce(tc.ace, tc.class)
			if got.Dangerous != tc.wantDangerous {
				t.Fatalf("Dangerous = %v, want %v", got.Dangerous, tc.wantDangerous)
			}
			if tc.wantDangerous && got.Permission != tc.wantPerm {
				t.Errorf("Permission = %q, want %q", got.Permission, tc.wantPerm)
			}
		})
	}
}

func TestRightName(t *testing.T) {
	tests := []struct {
		name  string
		ace   pki.Ace
		class pki.ObjectClass
		want  string
	}{
		{
			name:  "generic all wins over everything it implies",
			ace:   pki.Ace{Mask: RightGenericAll},
			class: pki.ClassTemplate,
			want:  "GenericAll",
		},
		{
			name:  "extended right with enroll guid",
			ace:   pki.Ace{Mask: RightExtendedRight, ObjectTypeGUID: pki.GUIDEnroll},
			class: pki.ClassTemplate,
			want:  "Enroll",
		},
		{
			name:  "extended right with autoenroll guid",
			ace:   pki.Ace{Mask: RightExtendedRight, ObjectTypeGUID: pki.GUIDAutoEnroll},
			class: pki.ClassTemplate,
			want:  "AutoEnroll",
		},
		{
			name:  "unscoped extended right",
			ace:   pki.Ace{Mask: RightExtendedRight},
			class: pki.ClassTemplate,
			want:  "Enroll",
		},
		{
			name:  "ca enrollment mask bit",
			ace:   pki.Ace{Mask: RightCAEnroll},
			class: pki.ClassAuthority,
			want:  "Enroll",
		},
		{
			name:  "manage certificates on authority",
			ace:   pki.Ace{Mask: RightManageCertificates},
			class: pki.ClassAuthority,
			want:  "ManageCertificates",
		},
		{
			name:  "deny ace has no right name",
			ace:   pki.Ace{Mask: RightGenericAll, Deny: true},
			class: pki.ClassTemplate,
			want:  "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := RightName(tc.ace, tc.class); got != tc.want {
				t.Errorf("RightName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMatchesSIDPattern(t *testing.T) {
	patterns := DefaultLowPrivPatterns()

	tests := []struct {
		sid  string
		want bool
	}{
		{"S-1-1-0", true},                // Everyone, exact
		{"S-1-5-11", true},               // Authenticated Users, exact
		{"S-1-5-21-1-2-3-513", true},     // Domain Users, RID suffix
		{"S-1-5-21-9-9-9-513", true},     // any domain's Domain Users
		{"S-1-5-21-1-2-3-512", false},    // Domain Admins
		{"S-1-5-21-1-2-3-1104", false},   // plain user
		{"S-1-5-21-1-2-3-211104", false}, // RID happens to contain 1104
	}

	for _, tc := range tests {
		t.Run(tc.sid, func(t *testing.T) {
			if got := MatchesSIDPattern(tc.sid, patterns); got != tc.want {
				t.Errorf("MatchesSIDPattern(%q) = %v, want %v", tc.sid, got, tc.want)
			}
		})
	}
}

func TestClassifyOwner(t *testing.T) {
	owners := DefaultStandardOwners()
	resolve := func(name string) (string, error) {
		switch name {
		case "CORP\\Administrator":
			return "S-1-5-21-1-2-3-500", nil
		case "CORP\\jdoe":
			return "S-1-5-21-1-2-3-1104", nil
		}
		return "", fmt.Errorf("unknown account %q", name)
	}

	tests := []struct {
		name  string
		owner string
		want  bool
	}{
		{"local system sid", "S-1-5-18", true},
		{"domain admins by rid", "S-1-5-21-1-2-3-512", true},
		{"plain user sid", "S-1-5-21-1-2-3-1104", false},
		{"resolvable admin name", "CORP\\Administrator", true},
		{"resolvable user name", "CORP\\jdoe", false},
		{"unresolvable name fails closed", "CORP\\ghost", false},
		{"empty owner fails closed", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyOwner(tc.owner, owners, resolve); got != tc.want {
				t.Errorf("ClassifyOwner(%q) = %v, want %v", tc.owner, got, tc.want)
			}
		})
	}

	// Without a resolver, names cannot be verified and classify as
	// non-standard.
	if ClassifyOwner("CORP\\Administrator", owners, nil) {
		t.Error("ClassifyOwner with nil resolver should fail closed for names")
	}
}

func TestAnnotate(t *testing.T) {
	catalog := mustCatalog(t)
	lowPriv := DefaultLowPrivPatterns()
	owners := DefaultStandardOwners()

	obj := &pki.PkiObject{
		DN:    "CN=WebServer,CN=Certificate Templates,CN=Public Key Services,CN=Services,CN=Configuration,DC=corp,DC=local",
		Name:  "WebServer",
		Class: pki.ClassTemplate,
		Security: &pki.SecurityInfo{
			OwnerSID: "S-1-5-21-1-2-3-512",
			Aces: []pki.Ace{
				// Deny entries never produce annotations.
				{PrincipalSID: "S-1-1-0", Mask: RightGenericAll, Deny: true},
				// Low-priv enrollment.
				{PrincipalSID: "S-1-5-21-1-2-3-513", Mask: RightExtendedRight, ObjectTypeGUID: pki.GUIDEnroll},
				// Low-priv full control: dangerous and an enrollment right.
				{PrincipalSID: "S-1-1-0", Mask: RightGenericAll},
				// High-priv full control is expected and ignored.
				{PrincipalSID: "S-1-5-21-1-2-3-512", Mask: RightGenericAll},
			},
		},
		Template: &pki.TemplateProps{Enabled: true},
	}

	Annotate(obj, catalog, lowPriv, owners, nil)

	if obj.NonStandardOwner {
		t.Error("Domain Admins owner flagged as non-standard")
	}
	wantEnrollees := []string{"S-1-5-21-1-2-3-513", "S-1-1-0"}
	if fmt.Sprint(obj.LowPrivEnrollees) != fmt.Sprint(wantEnrollees) {
		t.Errorf("LowPrivEnrollees = %v, want %v", obj.LowPrivEnrollees, wantEnrollees)
	}
	wantDangerous := []string{"S-1-1-0"}
	if fmt.Sprint(obj.DangerousACLPrincipals) != fmt.Sprint(wantDangerous) {
		t.Errorf("DangerousACLPrincipals = %v, want %v", obj.DangerousACLPrincipals, wantDangerous)
	}
}

func TestAnnotateMissingACL(t *testing.T) {
	obj := &pki.PkiObject{
		DN:    "CN=Orphan,DC=corp,DC=local",
		Class: pki.ClassTemplate,
	}

	Annotate(obj, mustCatalog(t), DefaultLowPrivPatterns(), DefaultStandardOwners(), nil)

	if obj.NonStandardOwner || len(obj.LowPrivEnrollees) != 0 || len(obj.DangerousACLPrincipals) != 0 {
		t.Errorf("object without ACL must stay unannotated, got %+v", obj)
	}
}

func TestAnnotateAuthorityRoles(t *testing.T) {
	obj := &pki.PkiObject{
		DN:    "CN=CORP-CA,CN=Enrollment Services,CN=Public Key Services,CN=Services,CN=Configuration,DC=corp,DC=local",
		Name:  "CORP-CA",
		Class: pki.ClassAuthority,
		Security: &pki.SecurityInfo{
			OwnerSID: "S-1-5-18",
		},
		Authority: &pki.AuthorityProps{
			CAName:              "CORP-CA",
			Administrators:      []string{"S-1-5-21-1-2-3-512", "S-1-5-11"},
			CertificateManagers: []string{"S-1-5-21-1-2-3-513"},
		},
	}

	Annotate(obj, mustCatalog(t), DefaultLowPrivPatterns(), DefaultStandardOwners(), nil)

	if fmt.Sprint(obj.LowPrivAdministrators) != fmt.Sprint([]string{"S-1-5-11"}) {
		t.Errorf("LowPrivAdministrators = %v, want [S-1-5-11]", obj.LowPrivAdministrators)
	}
	if fmt.Sprint(obj.LowPrivCertManagers) != fmt.Sprint([]string{"S-1-5-21-1-2-3-513"}) {
		t.Errorf("LowPrivCertManagers = %v, want [S-1-5-21-1-2-3-513]", obj.LowPrivCertManagers)
	}
}

func TestNewCatalogValidation(t *testing.T) {
	tests := []struct {
		name  string
		rules []PermissionRule
	}{
		{
			name:  "missing name",
			rules: []PermissionRule{{Right: "GenericAll", ObjectClasses: []string{"template"}}},
		},
		{
			name:  "unknown right",
			rules: []PermissionRule{{Name: "X", Right: "FullControl", ObjectClasses: []string{"template"}}},
		},
		{
			name:  "no object classes",
			rules: []PermissionRule{{Name: "X", Right: "GenericAll"}},
		},
		{
			name:  "unknown object class",
			rules: []PermissionRule{{Name: "X", Right: "GenericAll", ObjectClasses: []string{"domain"}}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCatalog(tc.rules); err == nil {
				t.Error("NewCatalog accepted a malformed rule")
			}
		})
	}
}
