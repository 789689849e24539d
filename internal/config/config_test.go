package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/pion/webrtc/v4"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Fatalf("port/mode = %d/%s", cfg.Port, cfg.Mode)
	}
	if cfg.Verification.InitialDelay != 30*time.Second || cfg.Verification.Interval != 5*time.Minute {
		t.Fatalf("verification = %+v", cfg.Verification)
	}
	if cfg.TrustIdentityHeader {
		t.Fatal("identity header trusted by default")
	}
	if cfg.Gateway.Timeout != 5*time.Second {
		t.Fatalf("gateway timeout = %s", cfg.Gateway.Timeout)
	}
	roles, err := cfg.Verification.RoleSet()
	if err != nil || len(roles) != 1 || roles[0] != domain.RoleStudent {
		t.Fatalf("roles = %v, %v", roles, err)
	}
	if ice := cfg.WebRTCICEServers(); len(ice) != 1 || ice[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ice = %+v", ice)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9090
ice_servers:
  - urls: ["turn:turn.example.org:3478"]
    username: meet
    credential: s3cret
verification:
  roles: [student, teacher]
  interval: 2m
gateway:
  url: http://engine:5000/verify
`)
	t.Setenv("ATTENDMEET_GATEWAY_TIMEOUT", "750ms")
	t.Setenv("ATTENDMEET_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "debug" || cfg.Port != 9191 {
		t.Fatalf("mode/port = %s/%d", cfg.Mode, cfg.Port)
	}
	if cfg.Verification.Interval != 2*time.Minute {
		t.Fatalf("interval = %s", cfg.Verification.Interval)
	}
	if cfg.Gateway.URL != "http://engine:5000/verify" || cfg.Gateway.Timeout != 750*time.Millisecond {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	roles, err := cfg.Verification.RoleSet()
	if err != nil || len(roles) != 2 {
		t.Fatalf("roles = %v, %v", roles, err)
	}

	ice := cfg.WebRTCICEServers()
	if len(ice) != 1 || ice[0].Username != "meet" || ice[0].Credential != "s3cret" {
		t.Fatalf("ice = %+v", ice)
	}
	if ice[0].CredentialType != webrtc.ICECredentialTypePassword {
		t.Fatalf("credential type = %v", ice[0].CredentialType)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"non-positive interval", "verification:\n  interval: 0s\n", "verification.interval"},
		{"missing gateway url", "gateway:\n  url: \"\"\n", "gateway.url"},
		{"unknown role", "verification:\n  roles: [janitor]\n", "verification.roles"},
		{"ping after pong", "ping_period: 90s\n", "ping_period"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestValidateSkipsGatewayWhenDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "verification:\n  enabled: false\n  interval: 0s\ngateway:\n  url: \"\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Verification.Enabled {
		t.Fatal("verification should be disabled")
	}
}
