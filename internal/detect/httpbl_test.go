package detect

import (
	"context"
	"net"
	"testing"
)

func fakeResolver(answers map[string][]string) func(context.Context, string) ([]string, error) {
	return func(_ context.Context, host string) ([]string, error) {
		if addrs, ok := answers[host]; ok {
			return addrs, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
}

func TestHTTPBLQueryShape(t *testing.T) {
	c := NewHTTPBLClient("abcdefghijkl")
	c.resolve = fakeResolver(map[string][]string{
		// 203.0.113.9 reversed, prefixed with the access key.
		"abcdefghijkl.9.113.0.203.dnsbl.httpbl.org": {"127.5.80.2"},
	})

	rep, err := c.Lookup(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !rep.Listed || rep.ThreatScore != 80 || rep.VisitorType != "Harvester" {
		t.Errorf("Reputation = %+v", rep)
	}
}

func TestHTTPBLNotListed(t *testing.T) {
	c := NewHTTPBLClient("abcdefghijkl")
	c.resolve = fakeResolver(nil)

	rep, err := c.Lookup(context.Background(), "198.51.100.1")
	if err != nil {
		t.Fatalf("NXDOMAIN must not be an error: %v", err)
	}
	if rep.Listed {
		t.Errorf("Unlisted address reported listed")
	}
}

func TestHTTPBLVisitorTypes(t *testing.T) {
	cases := []struct {
		mask int
		want string
	}{
		{0, "SearchEngine"},
		{1, "Suspicious"},
		{2, "Harvester"},
		{3, "Harvester"},
		{4, "CommentSpammer"},
		{7, "CommentSpammer"},
	}
	for _, tc := range cases {
		if got := visitorType(tc.mask); got != tc.want {
			t.Errorf("visitorType(%d) = %s, want %s", tc.mask, got, tc.want)
		}
	}
}

func TestHTTPBLSkipsIPv6(t *testing.T) {
	c := NewHTTPBLClient("abcdefghijkl")
	c.resolve = func(context.Context, string) ([]string, error) {
		t.Fatalf("IPv6 must not reach the resolver")
		return nil, nil
	}

	rep, err := c.Lookup(context.Background(), "2001:db8::1")
	if err != nil || rep.Listed {
		t.Errorf("IPv6 lookup = %+v, %v", rep, err)
	}
}
