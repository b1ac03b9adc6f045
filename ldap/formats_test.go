package ldap

import (
	"encoding/hex"
	"testing"
)

func TestEncodeSIDRoundTrip(t *testing.T) {
	sids := []string{
		"S-1-1-0",
		"S-1-5-11",
		"S-1-5-18",
		"S-1-5-32-544",
		"S-1-5-21-3623811015-3361044348-30300820-1104",
	}

	for _, sid := range sids {
		t.Run(sid, func(t *testing.T) {
			raw, err := EncodeSID(sid)
			if err != nil {
				t.Fatalf("EncodeSID: %v", err)
			}
			if got := ConvertSID(hex.EncodeToString(raw)); got != sid {
				t.Errorf("round trip = %q, want %q", got, sid)
			}
		})
	}
}

func TestEncodeSIDMalformed(t *testing.T) {
	inputs := []string{
		"",
		"S-1",
		"X-1-5-11",
		"S-one-5-11",
		"S-1-5-notanumber",
	}

	for _, sid := range inputs {
		t.Run(sid, func(t *testing.T) {
			if _, err := EncodeSID(sid); err == nil {
				t.Errorf("EncodeSID(%q) accepted malformed input", sid)
			}
		})
	}
}

func TestConvertSIDShortInput(t *testing.T) {
	if got := ConvertSID("0101"); got != "" {
		t.Errorf("ConvertSID on truncated input = %q, want empty", got)
	}
}

func TestSIDFilter(t *testing.T) {
	got, err := SIDFilter("S-1-5-11")
	if err != nil {
		t.Fatalf("SIDFilter: %v", err)
	}

	want := `(objectSid=\01\01\00\00\00\00\00\05\0b\00\00\00)`
	if got != want {
		t.Errorf("SIDFilter(S-1-5-11) = %q, want %q", got, want)
	}

	if _, err := SIDFilter("not-a-sid"); err == nil {
		t.Error("SIDFilter accepted malformed input")
	}
}

func TestBytesToGUID(t *testing.T) {
	// Binary GUIDs store the first three groups little-endian.
	raw := []byte{
		0x68, 0xc9, 0x10, 0x0e,
		0xfb, 0x78,
		0xd2, 0x11,
		0x90, 0xd4,
		0x00, 0xc0, 0x4f, 0x79, 0xdc, 0x55,
	}

	want := "0e10c968-78fb-11d2-90d4-00c04f79dc55"
	if got := BytesToGUID(raw); got != want {
		t.Errorf("BytesToGUID = %q, want %q", got, want)
	}

	if got := BytesToGUID(raw[:8]); got != "" {
		t.Errorf("BytesToGUID on truncated input = %q, want empty", got)
	}
}

func TestDomainFromDN(t *testing.T) {
	tests := []struct {
		dn   string
		want string
	}{
		{"CN=jdoe,CN=Users,DC=corp,DC=local", "CORP.LOCAL"},
		{"CN=T,CN=Certificate Templates,CN=Public Key Services,CN=Services,CN=Configuration,DC=sub,DC=corp,DC=local", "SUB.CORP.LOCAL"},
		{"CN=noDomain", ""},
	}

	for _, tc := range tests {
		t.Run(tc.dn, func(t *testing.T) {
			if got := DomainFromDN(tc.dn); got != tc.want {
				t.Errorf("DomainFromDN(%q) = %q, want %q", tc.dn, got, tc.want)
			}
		})
	}
}

func TestFirstDCComponent(t *testing.T) {
	tests := []struct {
		dn   string
		want string
	}{
		{"CN=jdoe,CN=Users,DC=corp,DC=local", "CORP"},
		{"CN=noDomain", ""},
	}

	for _, tc := range tests {
		t.Run(tc.dn, func(t *testing.T) {
			if got := FirstDCComponent(tc.dn); got != tc.want {
				t.Errorf("FirstDCComponent(%q) = %q, want %q", tc.dn, got, tc.want)
			}
		})
	}
}

func TestLDAPEntryAttrHelpers(t *testing.T) {
	e := LDAPEntry{
		DN: "CN=T,DC=corp,DC=local",
		Attributes: map[string][]string{
			"mspki-enrollment-flag": {"2"},
			"pkiextendedkeyusage":   {},
		},
	}

	if got := e.GetAttrVal("msPKI-Enrollment-Flag", ""); got != "2" {
		t.Errorf("attribute lookup is not case-insensitive: got %q", got)
	}
	if got := e.GetIntVal("msPKI-Enrollment-Flag", 0); got != 2 {
		t.Errorf("GetIntVal = %d, want 2", got)
	}
	if got := e.GetIntVal("msPKI-RA-Signature", 7); got != 7 {
		t.Errorf("GetIntVal default = %d, want 7", got)
	}

	// Present-but-empty is distinct from absent.
	if !e.HasAttr("pKIExtendedKeyUsage") {
		t.Error("HasAttr = false for a present attribute")
	}
	if e.HasAttr("certificateTemplates") {
		t.Error("HasAttr = true for an absent attribute")
	}
}
