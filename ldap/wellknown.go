package ldap

// WksDesc describes a well-known security principal.
type WksDesc struct {
	Name string
	Type string
}

// WellKnownSIDs maps well-known SIDs to their display name and object type.
// These principals never resolve through the directory, so the resolver
// answers them from this table directly.
var WellKnownSIDs = map[string]WksDesc{
	"S-1-0-0":      {"Nobody", "User"},
	"S-1-1-0":      {"Everyone", "Group"},
	"S-1-2-0":      {"Local", "Group"},
	"S-1-2-1":      {"Console Logon", "Group"},
	"S-1-3-0":      {"Creator Owner", "User"},
	"S-1-3-1":      {"Creator Group", "Group"},
	"S-1-3-4":      {"Owner Rights", "Group"},
	"S-1-5-1":      {"Dialup", "Group"},
	"S-1-5-2":      {"Network", "Group"},
	"S-1-5-3":      {"Batch", "Group"},
	"S-1-5-4":      {"Interactive", "Group"},
	"S-1-5-6":      {"Service", "Group"},
	"S-1-5-7":      {"Anonymous", "Group"},
	"S-1-5-9":      {"Enterprise Domain Controllers", "Group"},
	"S-1-5-10":     {"Principal Self", "User"},
	"S-1-5-11":     {"Authenticated Users", "Group"},
	"S-1-5-12":     {"Restricted Code", "Group"},
	"S-1-5-13":     {"Terminal Server Users", "Group"},
	"S-1-5-14":     {"Remote Interactive Logon", "Group"},
	"S-1-5-17":     {"IUSR", "User"},
	"S-1-5-18":     {"Local System", "User"},
	"S-1-5-19":     {"Local Service", "User"},
	"S-1-5-20":     {"Network Service", "User"},
	"S-1-5-32-544": {"Administrators", "Group"},
	"S-1-5-32-545": {"Users", "Group"},
	"S-1-5-32-546": {"Guests", "Group"},
	"S-1-5-32-548": {"Account Operators", "Group"},
	"S-1-5-32-549": {"Server Operators", "Group"},
	"S-1-5-32-550": {"Print Operators", "Group"},
	"S-1-5-32-551": {"Backup Operators", "Group"},
	"S-1-5-32-554": {"Pre-Windows 2000 Compatible Access", "Group"},
	"S-1-5-32-574": {"Certificate Service DCOM Access", "Group"},
}
