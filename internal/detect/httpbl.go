package detect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────
// http:BL Reputation Client
//
// Project Honeypot's DNSBL. The query is an A lookup on
//
//   <accesskey>.<d>.<c>.<b>.<a>.dnsbl.httpbl.org
//
// for address a.b.c.d. A listed address answers 127.<days>.<threat>.<type>
// where threat is 0-255 and type is a bitmask (1 suspicious, 2 harvester,
// 4 comment spammer; 0 means verified search engine). NXDOMAIN means not
// listed. IPv6 addresses are not covered by the zone and report unlisted.
// ──────────────────────────────────────────────────────────────────────

const httpblZone = "dnsbl.httpbl.org"

// HTTPBLClient implements ReputationClient against http:BL.
type HTTPBLClient struct {
	key     string
	resolve func(ctx context.Context, host string) ([]string, error)
}

// NewHTTPBLClient creates a client with the operator's access key.
func NewHTTPBLClient(accessKey string) *HTTPBLClient {
	r := &net.Resolver{}
	return &HTTPBLClient{
		key: accessKey,
		resolve: func(ctx context.Context, host string) ([]string, error) {
			return r.LookupHost(ctx, host)
		},
	}
}

// Lookup implements ReputationClient.
func (c *HTTPBLClient) Lookup(ctx context.Context, ip string) (Reputation, error) {
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return Reputation{}, nil
	}

	host := fmt.Sprintf("%s.%d.%d.%d.%d.%s", c.key, v4[3], v4[2], v4[1], v4[0], httpblZone)
	addrs, err := c.resolve(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return Reputation{}, nil
		}
		return Reputation{}, err
	}

	for _, addr := range addrs {
		octets := strings.Split(addr, ".")
		if len(octets) != 4 || octets[0] != "127" {
			continue
		}
		threat, err1 := strconv.Atoi(octets[2])
		visitorMask, err2 := strconv.Atoi(octets[3])
		if err1 != nil || err2 != nil {
			continue
		}
		return Reputation{
			Listed:      true,
			ThreatScore: threat,
			VisitorType: visitorType(visitorMask),
		}, nil
	}
	return Reputation{}, nil
}

func visitorType(mask int) string {
	switch {
	case mask == 0:
		return "SearchEngine"
	case mask&4 != 0:
		return "CommentSpammer"
	case mask&2 != 0:
		return "Harvester"
	default:
		return "Suspicious"
	}
}
