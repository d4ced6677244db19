package webhook

import (
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantValid  bool
		wantReason string
	}{
		{"public hostname", "https://hooks.example.com/qr", true, ""},
		{"public hostname with port", "https://hooks.example.com:8443/qr?x=1", true, ""},
		{"public ipv4", "https://203.0.113.10/hook", true, ""},
		{"public ipv6", "https://[2001:db8::1]/hook", true, ""},
		{"hostname resolving anywhere is not resolved", "https://internal.corp/hook", true, ""},

		{"plain http", "http://hooks.example.com/qr", false, "https"},
		{"uppercase scheme", "HTTPS://hooks.example.com", true, ""},
		{"ftp", "ftp://hooks.example.com", false, "https"},
		{"no scheme", "hooks.example.com/qr", false, "https"},
		{"malformed", "https://%zz", false, "malformed"},
		{"credentials", "https://user:pw@hooks.example.com", false, "credentials"},
		{"missing host", "https:///path", false, "host"},

		{"localhost", "https://localhost/hook", false, "localhost"},
		{"localhost uppercase", "https://LOCALHOST:8080", false, "localhost"},
		{"localhost subdomain", "https://api.localhost/hook", false, "localhost"},
		{"loopback v4", "https://127.0.0.1/hook", false, "loopback"},
		{"loopback v4 range", "https://127.8.9.10/hook", false, "loopback"},
		{"loopback v6", "https://[::1]/hook", false, "loopback"},
		{"v4-mapped loopback", "https://[::ffff:127.0.0.1]/hook", false, "loopback"},
		{"unspecified", "https://0.0.0.0/hook", false, "unspecified"},

		{"private 10/8", "https://10.1.2.3/hook", false, "private"},
		{"private 172.16/12", "https://172.20.0.5/hook", false, "private"},
		{"172.32 is public", "https://172.32.0.1/hook", true, ""},
		{"private 192.168/16", "https://192.168.1.1/hook", false, "private"},
		{"link-local", "https://169.254.10.10/hook", false, "private"},
		{"carrier-grade nat", "https://100.64.1.1/hook", false, "private"},
		{"unique local v6", "https://[fd12:3456::1]/hook", false, "private"},
		{"link-local v6", "https://[fe80::1]/hook", false, "private"},
		{"v4-mapped private", "https://[::ffff:10.0.0.1]/hook", false, "private"},

		{"aws metadata", "https://169.254.169.254/latest/meta-data", false, "metadata"},
		{"aws metadata v6", "https://[fd00:ec2::254]/", false, "metadata"},
		{"alibaba metadata", "https://100.100.100.200/", false, "metadata"},
		{"zoned link-local v6", "https://[fe80::1%25eth0]/hook", false, "private"},
		{"zoned aws metadata v6", "https://[fd00:ec2::254%25eth0]/hook", false, "metadata"},
		{"zoned loopback v6", "https://[::1%25lo]/hook", false, "loopback"},

		{"short loopback", "https://127.1/hook", false, "shorthand"},
		{"integer loopback", "https://2130706433/hook", false, "shorthand"},
		{"hex loopback", "https://0x7f000001/hook", false, "shorthand"},
		{"octal loopback", "https://0177.0.0.1/hook", false, "shorthand"},
		{"short private", "https://10.1/hook", false, "shorthand"},
		{"uppercase hex", "https://0X7F.0.0.1/hook", false, "shorthand"},
		{"numeric label in hostname", "https://123.example.com/hook", true, ""},
		{"hex-looking hostname", "https://0xcafe.example/hook", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateURL(tt.url)
			if got.Valid != tt.wantValid {
				t.Fatalf("ValidateURL(%q).Valid = %v, want %v (reason %q)", tt.url, got.Valid, tt.wantValid, got.Reason)
			}
			if tt.wantValid && got.Reason != "" {
				t.Errorf("valid url has reason %q", got.Reason)
			}
			if !tt.wantValid && !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to mention %q", got.Reason, tt.wantReason)
			}
		})
	}
}
