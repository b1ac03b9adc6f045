// Package pki models the four PKI-relevant directory object kinds
// (certificate templates, enrollment authorities, containers and CA host
// computers) and normalizes raw directory attributes into the typed state
// the rule engine evaluates.
package pki

// EKU OIDs that matter for certificate-based authentication.
const (
	OIDAnyPurpose                 = "2.5.29.37.0"
	OIDClientAuthentication       = "1.3.6.1.5.5.7.3.2"
	OIDPKINITClientAuthentication = "1.3.6.1.5.2.3.4"
	OIDSmartcardLogon             = "1.3.6.1.4.1.311.20.2.2"
	OIDCertificateRequestAgent    = "1.3.6.1.4.1.311.20.2.1"
)

// AuthenticationOIDs contains EKUs that enable domain authentication.
var AuthenticationOIDs = []string{
	OIDClientAuthentication,
	OIDPKINITClientAuthentication,
	OIDSmartcardLogon,
	OIDAnyPurpose,
}

// msPKI-Certificate-Name-Flag bits
const (
	CertNameFlagEnrolleeSuppliesSubject        = 0x00000001
	CertNameFlagEnrolleeSuppliesSubjectAltName = 0x00010000
)

// msPKI-Enrollment-Flag bits
const (
	EnrollmentFlagPendAllRequests     = 0x00000002
	EnrollmentFlagNoSecurityExtension = 0x00080000
)

// CA policy module EditFlags bits
const (
	EditFlagAttributeSubjectAltName2 = 0x00040000
)

// CA InterfaceFlags bits
const (
	InterfaceFlagNoRemoteICertRequest     = 0x00000002
	InterfaceFlagEnforceEncryptICertAdmin = 0x00000080
	InterfaceFlagEnforceEncryptICertReq   = 0x00000200
)

// Extended-right and property GUIDs referenced by the permission catalog.
const (
	GUIDAll               = "00000000-0000-0000-0000-000000000000"
	GUIDEnroll            = "0e10c968-78fb-11d2-90d4-00c04f79dc55"
	GUIDAutoEnroll        = "a05b8cc2-17bc-4802-a710-e7c15ab866a2"
	GUIDPKINameFlag       = "ea1dddc4-60ff-416e-8cc0-17cee534bce7"
	GUIDPKIEnrollmentFlag = "d15ef7d8-f226-46db-ae79-b34e560bd12c"
)
