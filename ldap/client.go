package ldap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Searcher is the directory surface consumed by the auditing engine. All
// searches are read-only; the engine issues no write operations.
type Searcher interface {
	// SearchSubtree runs a paged subtree search below baseDN, requesting
	// owner and DACL information in returned security descriptors.
	SearchSubtree(ctx context.Context, baseDN string, filter string, attributes []string) ([]LDAPEntry, error)

	// SearchBase reads attributes of a single object.
	SearchBase(ctx context.Context, dn string, filter string, attributes []string) ([]LDAPEntry, error)

	// SearchGlobalCatalog runs a forest-wide search against the global
	// catalog. Returns an error when no GC connection is available.
	SearchGlobalCatalog(ctx context.Context, filter string, attributes []string) ([]LDAPEntry, error)
}

// Client implements Searcher on top of go-ldap connections: one bound to a
// domain controller and, optionally, one bound to the global catalog port.
type Client struct {
	conn     *ldap.Conn
	gcConn   *ldap.Conn
	pageSize uint32
	timeout  time.Duration

	DefaultNC string
	ConfigNC  string
	ForestDNS string
}

const (
	DefaultPageSize      = 1000
	DefaultLookupTimeout = 10 * time.Second

	// DACL_SECURITY_INFORMATION | OWNER_SECURITY_INFORMATION
	sdFlagsOwnerDacl = 0x5
)

// NewClient wraps established LDAP connections. gcConn may be nil, in which
// case global catalog searches fail with a descriptive error and callers
// fall through to their next resolution strategy.
func NewClient(conn *ldap.Conn, gcConn *ldap.Conn, pageSize uint32, timeout time.Duration) (*Client, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if timeout == 0 {
		timeout = DefaultLookupTimeout
	}

	c := &Client{
		conn:     conn,
		gcConn:   gcConn,
		pageSize: pageSize,
		timeout:  timeout,
	}

	if err := c.readRootDSE(); err != nil {
		return nil, fmt.Errorf("read rootDSE: %w", err)
	}

	return c, nil
}

func (c *Client) readRootDSE() error {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext", "configurationNamingContext", "rootDomainNamingContext"},
		nil,
	)

	sr, err := c.conn.Search(req)
	if err != nil {
		return err
	}
	if len(sr.Entries) == 0 {
		return fmt.Errorf("empty rootDSE response")
	}

	var entry LDAPEntry
	entry.Init(sr.Entries[0])

	c.DefaultNC = entry.GetAttrVal("defaultNamingContext", "")
	c.ConfigNC = entry.GetAttrVal("configurationNamingContext", "")
	c.ForestDNS = DomainFromDN(entry.GetAttrVal("rootDomainNamingContext", ""))

	return nil
}

// PKIServicesDN returns the DN of the Public Key Services container, the
// root of all PKI configuration objects in the forest.
func (c *Client) PKIServicesDN() string {
	return "CN=Public Key Services,CN=Services," + c.ConfigNC
}

func (c *Client) SearchSubtree(ctx context.Context, baseDN string, filter string, attributes []string) ([]LDAPEntry, error) {
	var (
		out    []LDAPEntry
		cookie []byte
	)

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		searchReq := ldap.NewSearchRequest(
			baseDN,
			ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			filter,
			attributes,
			nil,
		)

		controlPaging := ldap.NewControlPaging(c.pageSize)
		controlPaging.SetCookie(cookie)

		controlSdFlags := ldap.NewControlMicrosoftSDFlags()
		controlSdFlags.ControlValue = sdFlagsOwnerDacl

		searchReq.Controls = []ldap.Control{controlPaging, controlSdFlags}

		sr, err := c.search(ctx, c.conn, searchReq)
		if err != nil {
			return out, err
		}

		for _, e := range sr.Entries {
			var entry LDAPEntry
			entry.Init(e)
			out = append(out, entry)
		}

		pagingControl, _ := ldap.FindControl(sr.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if pagingControl == nil {
			break
		}
		cookie = pagingControl.Cookie
		if len(cookie) == 0 {
			break
		}
	}

	return out, nil
}

func (c *Client) SearchBase(ctx context.Context, dn string, filter string, attributes []string) ([]LDAPEntry, error) {
	if filter == "" {
		filter = "(objectClass=*)"
	}

	searchReq := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		attributes,
		nil,
	)

	controlSdFlags := ldap.NewControlMicrosoftSDFlags()
	controlSdFlags.ControlValue = sdFlagsOwnerDacl
	searchReq.Controls = []ldap.Control{controlSdFlags}

	sr, err := c.search(ctx, c.conn, searchReq)
	if err != nil {
		return nil, err
	}

	return initEntries(sr.Entries), nil
}

func (c *Client) SearchGlobalCatalog(ctx context.Context, filter string, attributes []string) ([]LDAPEntry, error) {
	if c.gcConn == nil {
		return nil, fmt.Errorf("no global catalog connection")
	}

	// An empty base DN with subtree scope searches the whole forest on a
	// global catalog port.
	searchReq := ldap.NewSearchRequest(
		"",
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		attributes,
		nil,
	)

	sr, err := c.search(ctx, c.gcConn, searchReq)
	if err != nil {
		return nil, err
	}

	return initEntries(sr.Entries), nil
}

// search runs one search round trip with the per-lookup timeout applied.
// A timeout is reported the same way as any other lookup failure.
func (c *Client) search(ctx context.Context, conn *ldap.Conn, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	deadline := c.timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	conn.SetTimeout(deadline)
	sr, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search under %q: %w", req.BaseDN, err)
	}

	return sr, nil
}

func initEntries(raw []*ldap.Entry) []LDAPEntry {
	out := make([]LDAPEntry, 0, len(raw))
	for _, e := range raw {
		var entry LDAPEntry
		entry.Init(e)
		out = append(out, entry)
	}
	return out
}
