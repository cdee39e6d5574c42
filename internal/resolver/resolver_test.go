package resolver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// startDNSServer serves A answers from records on a loopback UDP socket and
// counts the queries it receives.
func startDNSServer(t *testing.T, records map[string]string) (string, *atomic.Int32) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var queries atomic.Int32
	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		queries.Add(1)

		m := new(dns.Msg)
		m.SetReply(req)
		q := req.Question[0]
		ip, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(m)
			return
		}
		if ip != "" {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
				A:   net.ParseIP(ip),
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String(), &queries
}

func TestLookupIPv4(t *testing.T) {
	addr, _ := startDNSServer(t, map[string]string{
		"relay.test.": "10.9.8.7",
		"empty.test.": "",
	})

	tests := []struct {
		name    string
		host    string
		want    netip.Addr
		wantErr error
	}{
		{name: "found", host: "relay.test", want: netip.MustParseAddr("10.9.8.7")},
		{name: "nxdomain", host: "missing.test", wantErr: ErrNoAddress},
		{name: "no answers", host: "empty.test", wantErr: ErrNoAddress},
	}

	r := New(addr, time.Second, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.LookupIPv4(context.Background(), tt.host)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestLookupIPv4Cached(t *testing.T) {
	addr, queries := startDNSServer(t, map[string]string{"relay.test.": "10.9.8.7"})

	r := New(addr, time.Second, time.Minute)
	for range 3 {
		got, err := r.LookupIPv4(context.Background(), "relay.test")
		if err != nil {
			t.Fatal(err)
		}
		if got != netip.MustParseAddr("10.9.8.7") {
			t.Fatalf("got %v", got)
		}
	}
	if n := queries.Load(); n != 1 {
		t.Fatalf("server saw %d queries, want 1", n)
	}
}

func TestNewDefaultPort(t *testing.T) {
	r := New("192.0.2.53", time.Second, 0)
	if r.server != "192.0.2.53:53" {
		t.Fatalf("got server %q", r.server)
	}
	r = New("192.0.2.53:5353", time.Second, 0)
	if r.server != "192.0.2.53:5353" {
		t.Fatalf("got server %q", r.server)
	}
}

func TestExpiry(t *testing.T) {
	r := New("192.0.2.53", time.Second, time.Minute)
	if got := r.expiry(30); got != 30*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := r.expiry(3600); got != time.Minute {
		t.Fatalf("got %v", got)
	}
	if got := r.expiry(0); got != time.Minute {
		t.Fatalf("got %v", got)
	}
}
