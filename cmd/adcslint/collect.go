package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Macmod/adcslint/config"
	gildap "github.com/Macmod/adcslint/ldap"
	"github.com/Macmod/adcslint/pki"
	"github.com/Macmod/adcslint/principal"
	"github.com/RedTeamPentesting/adauth/ldapauth"
	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// auditRun bundles the collected objects with the resolver that serves
// identity lookups for the rest of the run.
type auditRun struct {
	objects  []*pki.PkiObject
	resolver *principal.Resolver
	conns    []*ldap.Conn
}

func (a *auditRun) close() {
	for _, conn := range a.conns {
		conn.Close()
	}
}

var computerAttrs = []string{
	"name", "sAMAccountName", "distinguishedName", "objectClass",
	"dNSHostName", "nTSecurityDescriptor",
}

// collectLive connects to the directory, walks the Public Key Services
// container and normalizes the results into PKI objects.
func collectLive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*auditRun, error) {
	if cfg.ChosenAuth == "" {
		return nil, fmt.Errorf("no authentication credentials provided")
	}
	if cfg.ChosenAuth == "Anonymous" {
		cfg.LdapAuthOptions.SimpleBind = true
	}
	logger.Info().Str("method", authMethodLabel(cfg)).Msg("Auth method")

	domainName := strings.ToUpper(cfg.Auth.Creds().Domain)
	if domainName == "" {
		return nil, fmt.Errorf("could not determine domain from the credentials")
	}
	logger.Info().Str("domain", domainName).Msg("Initial domain")

	dc := cfg.DomainController
	if dc == "" {
		discovered, err := discoverDC(ctx, cfg, domainName)
		if err != nil {
			return nil, fmt.Errorf("discover DC for %q: %w", domainName, err)
		}
		dc = discovered
		logger.Info().Str("dc", dc).Msg("Discovered DC")
	} else {
		logger.Info().Str("dc", dc).Msg("Provided DC")
	}

	conn, err := connectDirectory(ctx, cfg, dc, logger)
	if err != nil {
		return nil, fmt.Errorf("LDAP connection failed: %w", err)
	}

	run := &auditRun{conns: []*ldap.Conn{conn}}

	gcConn, err := connectGlobalCatalog(ctx, cfg, dc)
	if err != nil {
		logger.Warn().Err(err).Msg("Global catalog unavailable, identity resolution limited to the default partition")
		gcConn = nil
	} else {
		run.conns = append(run.conns, gcConn)
	}

	client, err := gildap.NewClient(conn, gcConn, 0, cfg.LdapAuthOptions.Timeout)
	if err != nil {
		run.close()
		return nil, fmt.Errorf("read rootDSE: %w", err)
	}

	domains, err := principal.LoadDomains(ctx, client, client.ConfigNC)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to enumerate forest domains, account names will not be domain-qualified")
		domains = principal.NewDomainTable()
	}

	run.resolver = principal.NewResolver(client, domains, principal.NewCache(0), client.DefaultNC, logger)

	var snapshot *gildap.SnapshotWriter
	if path := cfg.RuntimeOptions.GetSnapshotWritePath(); path != "" {
		snapshot, err = gildap.NewSnapshotWriter(path)
		if err != nil {
			run.close()
			return nil, fmt.Errorf("open snapshot for writing: %w", err)
		}
		defer func() {
			if cerr := snapshot.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("Failed to finalize snapshot")
			} else {
				logger.Info().Str("path", path).Msg("Snapshot written")
			}
		}()
	}

	var entries []gildap.LDAPEntry
	for _, query := range cfg.RuntimeOptions.GetQueries() {
		base := client.PKIServicesDN()
		if query.Base == "default" {
			base = client.DefaultNC
		}

		result, err := client.SearchSubtree(ctx, base, query.Filter, query.Attributes)
		if err != nil {
			logger.Warn().Str("query", query.Name).Err(err).Msg("Collection query failed, continuing")
			continue
		}

		logger.Debug().Str("query", query.Name).Int("entries", len(result)).Msg("Collection query done")
		entries = append(entries, result...)
	}

	// CA host computer accounts live in the domain partition, keyed by the
	// enrollment service's dNSHostName.
	if cfg.RuntimeOptions.GetCollectCAHosts() {
		entries = append(entries, collectCAHosts(ctx, client, entries, logger)...)
	}

	if snapshot != nil {
		for i := range entries {
			if err := snapshot.Write(&entries[i]); err != nil {
				logger.Warn().Err(err).Msg("Failed to write snapshot entry")
				break
			}
		}
	}

	run.objects = buildObjects(entries, client.ForestDNS, cfg, logger)
	return run, nil
}

// loadSnapshot rebuilds the object set from a previously written snapshot.
// Identity resolution has no directory to ask in offline mode, so unknown
// principals stay as raw SIDs.
func loadSnapshot(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*auditRun, error) {
	reader, err := gildap.NewSnapshotReader(cfg.SnapshotIn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	logger.Info().Int("entries", len(entries)).Msg("Snapshot loaded")

	forest := ""
	if len(entries) > 0 {
		forest = gildap.DomainFromDN(entries[0].DN)
	}

	run := &auditRun{
		resolver: principal.NewResolver(offlineDirectory{}, principal.NewDomainTable(),
			principal.NewCache(0), "", logger),
	}
	run.objects = buildObjects(entries, forest, cfg, logger)
	return run, nil
}

// buildObjects normalizes raw entries into typed PKI objects, links
// templates to the authorities publishing them and merges any out-of-band
// authority state.
func buildObjects(entries []gildap.LDAPEntry, forest string, cfg *config.Config, logger zerolog.Logger) []*pki.PkiObject {
	var (
		objects          []*pki.PkiObject
		templates        []*pki.PkiObject
		authorityEntries []gildap.LDAPEntry
	)

	for i := range entries {
		e := &entries[i]
		classes := e.GetAttrVals("objectClass", nil)

		var (
			obj *pki.PkiObject
			err error
		)
		switch {
		case contains(classes, "pKICertificateTemplate"):
			obj, err = pki.TemplateFromEntry(e, forest)
		case contains(classes, "pKIEnrollmentService"):
			obj, err = pki.AuthorityFromEntry(e, forest)
			authorityEntries = append(authorityEntries, *e)
		case contains(classes, "computer"):
			obj, err = pki.ComputerFromEntry(e, forest)
		case contains(classes, "container") || contains(classes, "certificationAuthority"):
			obj, err = pki.ContainerFromEntry(e, forest)
		default:
			logger.Trace().Str("dn", e.DN).Msg("Skipping entry of unhandled class")
			continue
		}

		if err != nil {
			logger.Debug().Str("dn", e.DN).Err(err).Msg("Entry normalized without security descriptor")
		}
		if obj == nil {
			continue
		}

		objects = append(objects, obj)
		if obj.Class == pki.ClassTemplate {
			templates = append(templates, obj)
		}
	}

	pki.LinkTemplatesToAuthorities(templates, authorityEntries)

	if cfg.CAStatePath != "" {
		states, err := pki.LoadAuthorityState(cfg.CAStatePath)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load authority state, registry-dependent checks will be skipped")
		} else {
			pki.ApplyAuthorityState(objects, states)
		}
	}

	return objects
}

// collectCAHosts reads the computer account of each enrollment service
// host from the default partition.
func collectCAHosts(ctx context.Context, client *gildap.Client, entries []gildap.LDAPEntry, logger zerolog.Logger) []gildap.LDAPEntry {
	var out []gildap.LDAPEntry

	seen := make(map[string]struct{})
	for i := range entries {
		e := &entries[i]
		if !contains(e.GetAttrVals("objectClass", nil), "pKIEnrollmentService") {
			continue
		}
		host := e.GetAttrVal("dNSHostName", "")
		if host == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(host)]; dup {
			continue
		}
		seen[strings.ToLower(host)] = struct{}{}

		filter := fmt.Sprintf("(&(sAMAccountType=805306369)(dNSHostName=%s))", ldap.EscapeFilter(host))
		result, err := client.SearchSubtree(ctx, client.DefaultNC, filter, computerAttrs)
		if err != nil {
			logger.Warn().Str("host", host).Err(err).Msg("CA host lookup failed, continuing")
			continue
		}
		out = append(out, result...)
	}

	return out
}

// connectDirectory connects with the configured scheme and falls back from
// ldaps to plain ldap when allowed.
func connectDirectory(ctx context.Context, cfg *config.Config, addr string, logger zerolog.Logger) (*ldap.Conn, error) {
	target := cfg.Auth.NewTarget(cfg.LdapAuthOptions.Scheme, addr)
	conn, err := ldapauth.ConnectTo(ctx, cfg.Auth.Creds(), target, cfg.LdapAuthOptions)
	if err == nil {
		return conn, nil
	}

	if strings.EqualFold(cfg.LdapAuthOptions.Scheme, "ldaps") && cfg.RuntimeOptions.GetLdapsToLdapFallback() {
		logger.Warn().Err(err).Msg("LDAPS connection failed, falling back to LDAP")

		fallbackOpts := *cfg.LdapAuthOptions
		fallbackOpts.Scheme = "ldap"
		target = cfg.Auth.NewTarget("ldap", hostWithPort(addr, "389"))
		return ldapauth.ConnectTo(ctx, cfg.Auth.Creds(), target, &fallbackOpts)
	}

	return nil, err
}

// connectGlobalCatalog opens a second connection against the GC port of
// the same host.
func connectGlobalCatalog(ctx context.Context, cfg *config.Config, addr string) (*ldap.Conn, error) {
	port := "3268"
	if strings.EqualFold(cfg.LdapAuthOptions.Scheme, "ldaps") {
		port = "3269"
	}

	target := cfg.Auth.NewTarget(cfg.LdapAuthOptions.Scheme, hostWithPort(addr, port))
	return ldapauth.ConnectTo(ctx, cfg.Auth.Creds(), target, cfg.LdapAuthOptions)
}

// discoverDC locates a domain controller via SRV records, falling back to
// an A record lookup for the domain name itself.
func discoverDC(ctx context.Context, cfg *config.Config, domainName string) (string, error) {
	var discoveredDC string
	var dcHost string

	scheme := cfg.LdapAuthOptions.Scheme

	_, addrs, err := cfg.Resolver.LookupSRV(ctx, scheme, "tcp", domainName)
	if err != nil {
		if strings.EqualFold(scheme, "ldaps") {
			_, addrs, srvLDAPErr := cfg.Resolver.LookupSRV(ctx, "ldap", "tcp", domainName)
			if srvLDAPErr == nil && len(addrs) > 0 {
				dcHost = strings.TrimRight(addrs[0].Target, ".")
				discoveredDC = dcHost + ":636"
			}
		}
	} else if len(addrs) > 0 {
		dcHost = strings.TrimRight(addrs[0].Target, ".")
		discoveredDC = dcHost + ":" + strconv.Itoa(int(addrs[0].Port))
	}

	if dcHost == "" {
		dcAddrs, err := cfg.Resolver.LookupIP(ctx, "ip", domainName)
		if err != nil {
			return "", err
		}
		if len(dcAddrs) > 0 {
			dcHost = dcAddrs[0].String()
			if strings.EqualFold(scheme, "ldaps") {
				discoveredDC = dcHost + ":636"
			} else {
				discoveredDC = dcHost + ":389"
			}
		}
	}

	if dcHost == "" {
		return "", fmt.Errorf("could not resolve domain name")
	}

	return discoveredDC, nil
}

// authMethodLabel renders the effective authentication mechanism.
func authMethodLabel(cfg *config.Config) string {
	label := cfg.ChosenAuth

	switch {
	case cfg.LdapAuthOptions.SimpleBind:
		label += " (SimpleBind)"
	case cfg.Auth.Kerberos():
		if cfg.ChosenAuth == "CertPFX" || cfg.ChosenAuth == "CertPEM" {
			label += " (PKINIT/Kerberos)"
		} else {
			label += " (Kerberos)"
		}
	case cfg.ChosenAuth == "CertPFX" || cfg.ChosenAuth == "CertPEM":
		label += " (SChannel)"
	default:
		label += " (NTLM)"
	}

	return label
}

func hostWithPort(addr string, port string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(addr, port)
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

// offlineDirectory satisfies the directory interface when analyzing a
// snapshot. Every lookup fails the same way, and the resolver's fallback
// chain degrades to raw identities as it does for live lookup failures.
type offlineDirectory struct{}

func (offlineDirectory) SearchSubtree(context.Context, string, string, []string) ([]gildap.LDAPEntry, error) {
	return nil, fmt.Errorf("offline mode: no directory connection")
}

func (offlineDirectory) SearchBase(context.Context, string, string, []string) ([]gildap.LDAPEntry, error) {
	return nil, fmt.Errorf("offline mode: no directory connection")
}

func (offlineDirectory) SearchGlobalCatalog(context.Context, string, []string) ([]gildap.LDAPEntry, error) {
	return nil, fmt.Errorf("offline mode: no directory connection")
}
