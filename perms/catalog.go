// Package perms classifies access control entries and object ownership
// against a declarative permission catalog.
package perms

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Macmod/adcslint/pki"
	"gopkg.in/yaml.v3"
)

// ActiveDirectoryRights access mask bits.
const (
	RightSelf          uint32 = 0x00000008
	RightReadProperty  uint32 = 0x00000010
	RightWriteProperty uint32 = 0x00000020
	RightExtendedRight uint32 = 0x00000100
	RightGenericWrite  uint32 = 0x00020028
	RightWriteDacl     uint32 = 0x00040000
	RightWriteOwner    uint32 = 0x00080000
	RightGenericAll    uint32 = 0x000F01FF

	// CA management rights share the mask space on authority objects.
	RightManageCA           uint32 = 0x00000001
	RightManageCertificates uint32 = 0x00000002
	RightCAEnroll           uint32 = 0x00000200
)

// PermissionRule is one declarative catalog entry: which object classes it
// applies to, which access right it matches, and (for property writes) the
// property GUID it gates on. Immutable reference data loaded once.
type PermissionRule struct {
	Name          string   `yaml:"name"`
	Right         string   `yaml:"right"`
	ObjectClasses []string `yaml:"object_classes"`
	PropertyGUID  string   `yaml:"property_guid,omitempty"`
	Description   string   `yaml:"description"`
}

// Catalog holds the permission rules in evaluation order. First match wins.
type Catalog struct {
	rules []PermissionRule
}

type permissionFile struct {
	Rules []PermissionRule `yaml:"rules"`
}

// NewCatalog validates the rules against the known right names and object
// classes. A malformed catalog is fatal for the caller, not something to
// guess around.
func NewCatalog(rules []PermissionRule) (*Catalog, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("permission rule %d has no name", i)
		}
		if _, ok := rightMatchers[r.Right]; !ok {
			return nil, fmt.Errorf("permission rule %q: unknown right %q", r.Name, r.Right)
		}
		if len(r.ObjectClasses) == 0 {
			return nil, fmt.Errorf("permission rule %q applies to no object classes", r.Name)
		}
		for _, cls := range r.ObjectClasses {
			if _, err := pki.ParseClass(cls); err != nil {
				return nil, fmt.Errorf("permission rule %q: %w", r.Name, err)
			}
		}
		rules[i].PropertyGUID = strings.ToLower(r.PropertyGUID)
	}

	return &Catalog{rules: rules}, nil
}

// LoadCatalog reads a permission catalog from a yaml file, falling back to
// the built-in rules when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultRules())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission catalog: %w", err)
	}

	var file permissionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse permission catalog %q: %w", path, err)
	}

	return NewCatalog(file.Rules)
}

// Rules exposes the catalog contents for reporting.
func (c *Catalog) Rules() []PermissionRule {
	return c.rules
}

// rightMatcher reports whether an allow ACE carries the named right on the
// given object class, ignoring any property GUID gating (handled by the
// catalog rule).
type rightMatcher func(a pki.Ace, class pki.ObjectClass) bool

func maskMatcher(bits uint32) rightMatcher {
	return func(a pki.Ace, class pki.ObjectClass) bool {
		return a.Mask&bits == bits
	}
}

var rightMatchers = map[string]rightMatcher{
	"GenericAll": maskMatcher(RightGenericAll),
	"WriteDacl":  maskMatcher(RightWriteDacl),
	"WriteOwner": maskMatcher(RightWriteOwner),
	"GenericWrite": func(a pki.Ace, class pki.ObjectClass) bool {
		return a.Mask&RightGenericWrite == RightGenericWrite
	},
	"WriteProperty": maskMatcher(RightWriteProperty),
	"AllExtendedRights": func(a pki.Ace, class pki.ObjectClass) bool {
		return a.Mask&RightExtendedRight != 0 && a.ObjectTypeGUID == ""
	},
	"Enroll": func(a pki.Ace, class pki.ObjectClass) bool {
		if a.Mask&RightExtendedRight != 0 &&
			(a.ObjectTypeGUID == pki.GUIDEnroll || a.ObjectTypeGUID == "") {
			return true
		}
		// CA enrollment right uses a plain mask bit.
		return class == pki.ClassAuthority && a.Mask&RightCAEnroll != 0
	},
	"AutoEnroll": func(a pki.Ace, class pki.ObjectClass) bool {
		return a.Mask&RightExtendedRight != 0 && a.ObjectTypeGUID == pki.GUIDAutoEnroll
	},
	"ManageCA": func(a pki.Ace, class pki.ObjectClass) bool {
		return class == pki.ClassAuthority && a.Mask&RightManageCA != 0
	},
	"ManageCertificates": func(a pki.Ace, class pki.ObjectClass) bool {
		return class == pki.ClassAuthority && a.Mask&RightManageCertificates != 0
	},
}

// DefaultRules is the built-in dangerous-permission catalog. Ordering
// matters: broader grants are listed first so the matched name reflects the
// strongest right the ACE carries.
func DefaultRules() []PermissionRule {
	allClasses := []string{"template", "authority", "container", "computer"}
	return []PermissionRule{
		{
			Name:          "GenericAll",
			Right:         "GenericAll",
			ObjectClasses: allClasses,
			Description:   "full control over the object",
		},
		{
			Name:          "WriteDacl",
			Right:         "WriteDacl",
			ObjectClasses: allClasses,
			Description:   "can rewrite the object's ACL and grant any right",
		},
		{
			Name:          "WriteOwner",
			Right:         "WriteOwner",
			ObjectClasses: allClasses,
			Description:   "can take ownership of the object",
		},
		{
			Name:          "GenericWrite",
			Right:         "GenericWrite",
			ObjectClasses: allClasses,
			Description:   "can modify any attribute of the object",
		},
		{
			Name:          "WritePKINameFlag",
			Right:         "WriteProperty",
			ObjectClasses: []string{"template"},
			PropertyGUID:  pki.GUIDPKINameFlag,
			Description:   "can enable enrollee-supplied subject names on the template",
		},
		{
			Name:          "WritePKIEnrollmentFlag",
			Right:         "WriteProperty",
			ObjectClasses: []string{"template"},
			PropertyGUID:  pki.GUIDPKIEnrollmentFlag,
			Description:   "can disable manager approval on the template",
		},
		{
			Name:          "ManageCA",
			Right:         "ManageCA",
			ObjectClasses: []string{"authority"},
			Description:   "CA administrator: can reconfigure the certification authority",
		},
		{
			Name:          "ManageCertificates",
			Right:         "ManageCertificates",
			ObjectClasses: []string{"authority"},
			Description:   "certificate manager: can approve pending certificate requests",
		},
	}
}

// RightName returns the display name of the strongest right an allow ACE
// carries on the given class, independent of the dangerous catalog: used to
// attribute findings whose principal came off a precomputed list.
func RightName(a pki.Ace, class pki.ObjectClass) string {
	if a.Deny {
		return ""
	}

	ordered := []string{
		"GenericAll", "WriteDacl", "WriteOwner", "GenericWrite",
		"ManageCA", "ManageCertificates",
		"Enroll", "AutoEnroll", "AllExtendedRights", "WriteProperty",
	}
	for _, name := range ordered {
		if rightMatchers[name](a, class) {
			return name
		}
	}

	return ""
}

// OwnerRight labels implicit control through object ownership. An owner
// can always rewrite the DACL, so ownership is attributed even when the
// owner holds no explicit entry.
const OwnerRight = "Owner"

// IsEnrollmentRight reports whether a right name grants certificate
// enrollment.
func IsEnrollmentRight(name string) bool {
	return slices.Contains([]string{"Enroll", "AutoEnroll", "GenericAll"}, name)
}
