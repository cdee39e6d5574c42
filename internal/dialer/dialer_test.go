package dialer

import (
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		relay   string
		wantErr bool
	}{
		{name: "ipv4", relay: "127.0.0.1:1080"},
		{name: "hostname", relay: "relay.example:1080"},
		{name: "ipv6", relay: "[::1]:1080"},
		{name: "missing port", relay: "relay.example", wantErr: true},
		{name: "missing host", relay: ":1080", wantErr: true},
		{name: "zero port", relay: "relay.example:0", wantErr: true},
		{name: "port out of range", relay: "relay.example:70000", wantErr: true},
		{name: "url instead of address", relay: "socks5://relay.example:1080", wantErr: true},
		{name: "empty", relay: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := New(Config{}, tt.relay, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if d.RelayAddr() != tt.relay {
				t.Fatalf("got relay %q want %q", d.RelayAddr(), tt.relay)
			}
		})
	}
}
