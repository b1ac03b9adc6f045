package pki

import (
	"fmt"
	"strings"

	"github.com/TheManticoreProject/winacl/ace/acetype"
	"github.com/TheManticoreProject/winacl/securitydescriptor"
)

// ParseSecurityDescriptor unmarshals a binary nTSecurityDescriptor into the
// owner SID plus the allow/deny entries of its DACL. Entries for SIDs that
// cannot be rendered are dropped. ACE types other than the four
// allow/deny variants (audit, callback) carry no exploitable grant and are
// skipped.
func ParseSecurityDescriptor(raw []byte) (*SecurityInfo, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	sd := &securitydescriptor.NtSecurityDescriptor{}
	if _, err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("unmarshal security descriptor: %w", err)
	}

	info := &SecurityInfo{}

	if sd.Owner != nil {
		info.OwnerSID = sd.Owner.SID.String()
	}

	if sd.DACL == nil {
		return info, nil
	}

	for _, entry := range sd.DACL.Entries {
		var deny bool
		switch entry.Header.Type.Value {
		case acetype.ACE_TYPE_ACCESS_ALLOWED, acetype.ACE_TYPE_ACCESS_ALLOWED_OBJECT:
			deny = false
		case acetype.ACE_TYPE_ACCESS_DENIED, acetype.ACE_TYPE_ACCESS_DENIED_OBJECT:
			deny = true
		default:
			continue
		}

		sidStr := entry.Identity.SID.String()
		if sidStr == "" {
			continue
		}

		objTypeGUID := strings.ToLower(entry.AccessControlObjectType.ObjectType.GUID.ToFormatD())
		if objTypeGUID == GUIDAll {
			objTypeGUID = ""
		}

		info.Aces = append(info.Aces, Ace{
			PrincipalSID:   sidStr,
			Deny:           deny,
			Mask:           entry.Mask.RawValue,
			ObjectTypeGUID: objTypeGUID,
			Inherited:      entry.IsInherited(),
		})
	}

	return info, nil
}
