// Package config handles command-line flags, authentication, and runtime
// configuration for adcslint.
package config

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/RedTeamPentesting/adauth"
	"github.com/RedTeamPentesting/adauth/ldapauth"
	"github.com/spf13/pflag"
)

// Config holds all application configuration
type Config struct {
	DomainController string
	LogFile          string
	ConfigPath       string
	CustomDns        string
	DnsTcp           bool
	VerbosityLevel   int

	// SnapshotIn switches the run to offline mode, reading collected
	// entries from a snapshot file instead of the directory.
	SnapshotIn  string
	SnapshotOut string

	// Catalog and state overrides. Empty means built-in defaults.
	PermCatalogPath      string
	TechniqueCatalogPath string
	CAStatePath          string

	SummaryOnly bool

	LdapAuthOptions *ldapauth.Options
	RuntimeOptions  *RuntimeOptions

	Auth       *CredentialMgr
	ChosenAuth string
	Resolver   *CachingResolver
}

const DEFAULT_LDAP_TIMEOUT = 30 * time.Second
const DEFAULT_LDAP_SCHEME = "ldaps"
const DNS_DIAL_TIMEOUT = 5 * time.Second
const DNS_LOOKUP_TIMEOUT = 10 * time.Second

// DialerWithResolver implements custom LDAP dialing with DNS resolver override.
type DialerWithResolver struct {
	Resolver *CachingResolver
}

// DialContext resolves the address using the custom resolver and dials using TCP.
func (d *DialerWithResolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := d.Resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	for _, ip := range ips {
		conn, err := net.DialTimeout(network, net.JoinHostPort(ip, port), DEFAULT_LDAP_TIMEOUT)
		if err == nil {
			return conn, nil
		}
	}

	return nil, fmt.Errorf("failed to connect to any IP for %s", addr)
}

// Dial implements the Dialer interface with a default context timeout.
func (d *DialerWithResolver) Dial(network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DNS_LOOKUP_TIMEOUT)
	defer cancel()
	return d.DialContext(ctx, network, addr)
}

// ParseFlags parses command line flags and returns a configuration instance
func ParseFlags() (*Config, error) {
	var err error
	var showVersion bool

	config := &Config{
		LdapAuthOptions: &ldapauth.Options{},
	}

	pflag.BoolVar(&showVersion, "version", false, "Show version information and exit")

	var verbosity int
	pflag.CountVarP(&verbosity, "verbose", "v", "Increase verbosity level (can be used multiple times: -v for verbose, -vv for debug)")

	pflag.StringVar(&config.LogFile, "log", "", "Path to log file (optional)")
	pflag.StringVar(&config.ConfigPath, "config", "config.yaml", "Path to YAML config file (optional)")
	pflag.StringVar(&config.CustomDns, "dns", "", "Custom DNS resolver to use")
	pflag.BoolVar(&config.DnsTcp, "dns-tcp", false, "Use DNS over TCP instead of UDP")
	pflag.StringVar(&config.DomainController, "dc", "", "Domain controller to use")
	pflag.StringVar(&config.SnapshotIn, "snapshot", "", "Analyze a previously collected snapshot instead of querying the directory")
	pflag.StringVar(&config.SnapshotOut, "snapshot-out", "", "Write collected entries to a snapshot file for later offline analysis")
	pflag.StringVar(&config.PermCatalogPath, "permissions", "", "Path to a custom permission catalog (YAML); built-in catalog if empty")
	pflag.StringVar(&config.TechniqueCatalogPath, "techniques", "", "Path to a custom technique catalog (YAML); built-in catalog if empty")
	pflag.StringVar(&config.CAStatePath, "ca-state", "", "Path to a YAML file with registry-sourced authority state collected out of band")
	pflag.BoolVar(&config.SummaryOnly, "summary", false, "Print only the findings summary table")

	authOptions := &adauth.Options{}
	registerAuthFlags(authOptions, pflag.CommandLine)
	registerLdapFlags(config.LdapAuthOptions, pflag.CommandLine)

	pflag.Parse()

	if verbosity > 0 {
		config.VerbosityLevel = verbosity
	}

	if showVersion {
		return nil, fmt.Errorf("VERSION_REQUESTED")
	}

	var resolver *CachingResolver
	if config.CustomDns != "" {
		resolver, err = setupDNSResolver(config.CustomDns, config.DnsTcp)
		if err != nil {
			return nil, fmt.Errorf("failed to setup DNS resolver: %w", err)
		}
	} else {
		resolver = NewCachingResolver(net.DefaultResolver)
	}
	config.Resolver = resolver
	authOptions.Resolver = resolver

	config.RuntimeOptions, err = LoadOptions(config.ConfigPath)
	if err != nil {
		return nil, err
	}

	if config.SnapshotOut != "" {
		config.RuntimeOptions.SetSnapshotWritePath(config.SnapshotOut)
	}

	config.LdapAuthOptions.LDAPDialer = &DialerWithResolver{Resolver: resolver}
	config.LdapAuthOptions.KerberosDialer = &DialerWithResolver{Resolver: resolver}

	isEmptyPassword := authOptions.Password == "" && pflag.CommandLine.Changed("password")
	chosenAuth, auth, err := ParseCredential(authOptions, isEmptyPassword)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		auth.SetDC(config.DomainController)
		config.Auth = auth
	}
	config.ChosenAuth = chosenAuth

	return config, nil
}

// registerAuthFlags registers authentication flags for directory collection
func registerAuthFlags(opts *adauth.Options, flagset *pflag.FlagSet) {
	flagset.StringVarP(&opts.User, "user", "u", "", "Username (with domain) in one of the following formats: UPN, domain\\user, domain/user or user")
	flagset.StringVarP(&opts.Password, "password", "p", "", "Password")
	flagset.StringVarP(&opts.NTHash, "nt-hash", "H", "", "NT hash")
	flagset.StringVar(&opts.AESKey, "aes-key", "", "AES key")
	flagset.StringVar(&opts.CCache, "ccache", "", "Path to CCache file")
	flagset.BoolVarP(&opts.ForceKerberos, "kerberos", "k", false, "Force Kerberos authentication")
	flagset.StringVar(&opts.PFXFileName, "pfx", "", "PFX file")
	flagset.StringVar(&opts.PFXPassword, "pfx-password", "", "Password for PFX file")
	flagset.StringVar(&opts.PEMCertFileName, "cert", "", "PEM certificate file")
	flagset.StringVar(&opts.PEMKeyFileName, "key", "", "PEM key file")
}

func registerLdapFlags(opts *ldapauth.Options, flagset *pflag.FlagSet) {
	flagset.StringVar(&opts.Scheme, "scheme", DEFAULT_LDAP_SCHEME, "Scheme (ldap or ldaps)")
	flagset.DurationVar(&opts.Timeout, "timeout", DEFAULT_LDAP_TIMEOUT, "LDAP connection timeout")
	flagset.BoolVar(&opts.Verify, "verify", false, "Verify LDAP TLS certificate")
	flagset.BoolVar(&opts.StartTLS, "start-tls", false, "Negotiate StartTLS before authenticating on regular LDAP connection")
}

// setupDNSResolver creates and configures a custom DNS resolver with caching.
func setupDNSResolver(customDNS string, useTCP bool) (*CachingResolver, error) {
	ip := net.ParseIP(customDNS)
	if ip == nil {
		return nil, fmt.Errorf("invalid custom DNS resolver IP address: '%s'", customDNS)
	}

	dnsDialer := net.Dialer{
		Timeout: DNS_DIAL_TIMEOUT,
	}

	baseResolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			if useTCP {
				return dnsDialer.DialContext(ctx, "tcp", customDNS+":53")
			}
			return dnsDialer.DialContext(ctx, "udp", customDNS+":53")
		},
	}

	return NewCachingResolver(baseResolver), nil
}
