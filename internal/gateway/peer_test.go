package gateway

import (
	"errors"
	"testing"

	"prefix-gateway/internal/model"
)

func TestSelectPeer(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   model.UpstreamTarget
	}{
		{
			name:   "https default port, trailing slash dropped",
			target: "https://api.internal/",
			want:   model.UpstreamTarget{DialAddress: "api.internal:443", SNI: true, HostHeader: "api.internal", Scheme: "https"},
		},
		{
			name:   "http explicit port preserved",
			target: "http://svc:9000",
			want:   model.UpstreamTarget{DialAddress: "svc:9000", SNI: false, HostHeader: "svc", Scheme: "http"},
		},
		{
			name:   "http default port",
			target: "http://svc",
			want:   model.UpstreamTarget{DialAddress: "svc:80", HostHeader: "svc", Scheme: "http"},
		},
		{
			name:   "https explicit port",
			target: "https://secure.example:8443/base/path",
			want:   model.UpstreamTarget{DialAddress: "secure.example:8443", SNI: true, HostHeader: "secure.example", Scheme: "https"},
		},
		{
			name:   "ws defaults to 80",
			target: "ws://chat.internal",
			want:   model.UpstreamTarget{DialAddress: "chat.internal:80", HostHeader: "chat.internal", Scheme: "http"},
		},
		{
			name:   "wss defaults to 443 with SNI",
			target: "wss://chat.internal",
			want:   model.UpstreamTarget{DialAddress: "chat.internal:443", SNI: true, HostHeader: "chat.internal", Scheme: "https"},
		},
		{
			name:   "scheme is case-insensitive",
			target: "HTTPS://API.internal",
			want:   model.UpstreamTarget{DialAddress: "API.internal:443", SNI: true, HostHeader: "API.internal", Scheme: "https"},
		},
		{
			name:   "query after authority dropped",
			target: "http://svc:9000?debug=1",
			want:   model.UpstreamTarget{DialAddress: "svc:9000", HostHeader: "svc", Scheme: "http"},
		},
		{
			name:   "ipv6 literal",
			target: "http://[::1]:8080",
			want:   model.UpstreamTarget{DialAddress: "[::1]:8080", HostHeader: "[::1]", Scheme: "http"},
		},
		{
			name:   "no scheme is verbatim",
			target: "127.0.0.1:5000",
			want:   model.UpstreamTarget{DialAddress: "127.0.0.1:5000", HostHeader: "127.0.0.1", Scheme: "http"},
		},
		{
			name:   "unknown scheme is verbatim",
			target: "ftp://files:21",
			want:   model.UpstreamTarget{DialAddress: "ftp://files:21", HostHeader: "ftp://files", Scheme: "http"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectPeer(tt.target)
			if err != nil {
				t.Fatalf("SelectPeer(%q) error = %v", tt.target, err)
			}
			if got != tt.want {
				t.Errorf("SelectPeer(%q) = %+v, want %+v", tt.target, got, tt.want)
			}
		})
	}
}

func TestSelectPeer_Malformed(t *testing.T) {
	for _, target := range []string{"", "https://", "http:///path"} {
		t.Run(target, func(t *testing.T) {
			_, err := SelectPeer(target)
			var gwErr *Error
			if !errors.As(err, &gwErr) || gwErr.Kind != KindUpstreamTargetMalformed {
				t.Errorf("SelectPeer(%q) error = %v, want %v", target, err, KindUpstreamTargetMalformed)
			}
		})
	}
}

func TestParseRouteConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    string
		wantErr bool
	}{
		{"string target", `{"target":"http://svc:9000"}`, "http://svc:9000", false},
		{"extra fields ignored", `{"target":"https://api.internal/","weight":3}`, "https://api.internal/", false},
		{"invalid json", `{"target":`, "", true},
		{"missing target", `{"upstream":"http://svc"}`, "", true},
		{"numeric target", `{"target":8080}`, "", true},
		{"null target", `{"target":null}`, "", true},
		{"object target", `{"target":{"host":"svc"}}`, "", true},
		{"empty target", `{"target":""}`, "", true},
		{"bare string document", `"http://svc"`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRouteConfig(tt.doc)
			if tt.wantErr {
				var gwErr *Error
				if !errors.As(err, &gwErr) || gwErr.Kind != KindUpstreamTargetMalformed {
					t.Fatalf("ParseRouteConfig(%q) error = %v, want %v", tt.doc, err, KindUpstreamTargetMalformed)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRouteConfig(%q) error = %v", tt.doc, err)
			}
			if got.Target != tt.want {
				t.Errorf("Target = %q, want %q", got.Target, tt.want)
			}
		})
	}
}
