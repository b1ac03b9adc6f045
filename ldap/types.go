// Package ldap wraps directory access for the auditing engine: attribute
// helpers over raw entries, SID/GUID codecs and a thin paged-search client.
package ldap

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

type LDAPEntry struct {
	DN            string
	Attributes    map[string][]string
	RawAttributes map[string][][]byte
}

func (l *LDAPEntry) Init(e *ldap.Entry) {
	l.DN = e.DN
	l.Attributes = make(map[string][]string, len(e.Attributes))
	l.RawAttributes = make(map[string][][]byte, len(e.Attributes))

	for _, attr := range e.Attributes {
		l.Attributes[strings.ToLower(attr.Name)] = attr.Values
		l.RawAttributes[strings.ToLower(attr.Name)] = attr.ByteValues
	}
}

func (l *LDAPEntry) GetAttrVals(attrName string, defValue []string) []string {
	vals, ok := l.Attributes[strings.ToLower(attrName)]
	if ok {
		return vals
	}

	return defValue
}

func (l *LDAPEntry) GetAttrVal(attrName string, defValue string) string {
	vals := l.GetAttrVals(attrName, []string{defValue})

	if len(vals) > 0 {
		return vals[0]
	}

	return defValue
}

func (l *LDAPEntry) GetAttrRawVals(attrName string, defValue [][]byte) [][]byte {
	vals, ok := l.RawAttributes[strings.ToLower(attrName)]
	if ok {
		return vals
	}

	return defValue
}

func (l *LDAPEntry) GetAttrRawVal(attrName string, defValue []byte) []byte {
	vals := l.GetAttrRawVals(attrName, [][]byte{defValue})

	if len(vals) > 0 {
		return vals[0]
	}

	return defValue
}

// HasAttr reports whether the attribute was returned at all, which is
// distinct from it being returned with an empty value.
func (l *LDAPEntry) HasAttr(attrName string) bool {
	_, ok := l.Attributes[strings.ToLower(attrName)]
	return ok
}

// GetIntVal parses a decimal integer attribute, returning defValue when the
// attribute is absent or unparsable.
func (l *LDAPEntry) GetIntVal(attrName string, defValue int64) int64 {
	val := l.GetAttrVal(attrName, "")
	if val == "" {
		return defValue
	}

	var n int64
	if _, err := fmt.Sscan(val, &n); err != nil {
		return defValue
	}

	return n
}

func (l *LDAPEntry) GetSID() string {
	sidBytes := l.GetAttrRawVal("objectSid", []byte{})
	if len(sidBytes) == 0 {
		return ""
	}

	return ConvertSID(hex.EncodeToString(sidBytes))
}

func (l *LDAPEntry) GetGUID() string {
	guidBytes := l.GetAttrRawVal("objectGUID", []byte{})
	return strings.ToUpper(BytesToGUID(guidBytes))
}

// GetSecurityDescriptor returns the raw nTSecurityDescriptor bytes, or nil
// when the server did not return the attribute.
func (l *LDAPEntry) GetSecurityDescriptor() []byte {
	sd := l.GetAttrRawVal("nTSecurityDescriptor", nil)
	if len(sd) == 0 {
		return nil
	}

	return sd
}

var dcReplaceRegex = regexp.MustCompile(`(?i)DC=`)

// GetDomainFromDN extracts the DNS domain name from the DC= components of
// the entry's distinguished name.
func (l *LDAPEntry) GetDomainFromDN() string {
	return DomainFromDN(l.DN)
}

// DomainFromDN extracts the DNS domain name from an arbitrary DN.
func DomainFromDN(dn string) string {
	idx := strings.Index(strings.ToLower(dn), "dc=")
	if idx < 0 {
		return ""
	}

	temp := dn[idx:]
	temp = dcReplaceRegex.ReplaceAllString(temp, "")
	temp = strings.ReplaceAll(temp, ",", ".")

	return strings.ToUpper(temp)
}

// FirstDCComponent returns the value of the first DC= naming component of a
// DN. Used as a last-resort NetBIOS domain guess when the domain table has
// no entry for the DN.
func FirstDCComponent(dn string) string {
	for _, component := range strings.Split(dn, ",") {
		trimmed := strings.TrimSpace(component)
		if strings.HasPrefix(strings.ToUpper(trimmed), "DC=") {
			return strings.ToUpper(trimmed[3:])
		}
	}

	return ""
}
