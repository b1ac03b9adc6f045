package config

import "github.com/Macmod/adcslint/perms"

// FallbackOptions returns default runtime options
func FallbackOptions() *RuntimeOptions {
	opts := &RuntimeOptions{}

	// Collection defaults
	opts.Collection.LdapsToLdapFallback = true
	opts.Collection.CollectCAHosts = true

	opts.Collection.Queries = []QueryDefinition{
		{
			Name:   "CertificateTemplates",
			Base:   "pki",
			Filter: "(objectClass=pKICertificateTemplate)",
			Attributes: []string{
				"name", "displayName", "distinguishedName", "objectClass",
				"msPKI-Certificate-Name-Flag", "msPKI-Enrollment-Flag",
				"msPKI-RA-Signature", "msPKI-Template-Schema-Version",
				"pKIExtendedKeyUsage",
				"nTSecurityDescriptor",
			},
			PageSize: 1000,
		},
		{
			Name:   "EnrollmentServices",
			Base:   "pki",
			Filter: "(objectClass=pKIEnrollmentService)",
			Attributes: []string{
				"name", "displayName", "distinguishedName", "objectClass",
				"dNSHostName", "certificateTemplates", "cACertificate",
				"nTSecurityDescriptor",
			},
			PageSize: 1000,
		},
		{
			Name:   "Containers",
			Base:   "pki",
			Filter: "(objectClass=container)",
			Attributes: []string{
				"name", "distinguishedName", "objectClass",
				"nTSecurityDescriptor",
			},
			PageSize: 1000,
		},
		{
			Name:   "CertificationAuthorities",
			Base:   "pki",
			Filter: "(objectClass=certificationAuthority)",
			Attributes: []string{
				"name", "distinguishedName", "objectClass",
				"cACertificate",
				"nTSecurityDescriptor",
			},
			PageSize: 1000,
		},
	}

	// Analysis defaults
	opts.Analysis.ExpandGroups = true
	opts.Analysis.IncludeGroupFindings = false
	opts.Analysis.StandardOwners = perms.DefaultStandardOwners()
	opts.Analysis.LowPrivPatterns = perms.DefaultLowPrivPatterns()

	return opts
}
