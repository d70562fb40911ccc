package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478", "turns:turn.example.com:5349"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("urls[0]=%q", servers[0].URLs[0])
	}
	if servers[1].Username != "u" || servers[1].Credential != "c" {
		t.Fatalf("turn credentials=%q/%v", servers[1].Username, servers[1].Credential)
	}
}

func TestParseICEServersJSONRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "stun:stun.example.com"},
		{"missing urls", `[{"username": "u"}]`},
		{"turn without credentials", `[{"urls": "turn:turn.example.com:3478"}]`},
		{"stun with credentials", `[{"urls": "stun:stun.example.com", "username": "u", "credential": "c"}]`},
		{"unknown scheme", `[{"urls": "https://example.com"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseICEServersJSON(tc.raw); err == nil {
				t.Fatalf("accepted %q", tc.raw)
			}
		})
	}
}

func TestConvenienceEnvStunAndTurn(t *testing.T) {
	servers, err := parseICEServersFromValues("",
		"stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		"turn:turn.example.com:3478",
		"user", "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len=%d, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Fatalf("stun urls=%v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Fatalf("turn username=%q", servers[1].Username)
	}
}

func TestConvenienceEnvTurnRequiresCredentials(t *testing.T) {
	_, err := parseICEServersFromValues("", "", "turn:turn.example.com:3478", "", "")
	if err == nil || !strings.Contains(err.Error(), "both must be set") {
		t.Fatalf("err=%v, want credential error", err)
	}
}

func TestICEServersJSONTakesPrecedence(t *testing.T) {
	servers, err := parseICEServersFromValues(
		`[{"urls": "stun:json.example.com:3478"}]`,
		"stun:env.example.com:3478", "", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com:3478" {
		t.Fatalf("servers=%v, want json source to win", servers)
	}
}
