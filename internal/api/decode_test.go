package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSnakeToCamel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "first_name", want: "firstName"},
		{input: "firstName", want: "firstName"},
		{input: "reward_pool_percentage", want: "rewardPoolPercentage"},
		{input: "_leading", want: "leading"},
		{input: "email", want: "email"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := snakeToCamel(tt.input); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDecodeJSON_NestedKeysAndCamelPrecedence(t *testing.T) {
	var dst struct {
		PoolCents int64 `json:"poolCents"`
		Winners   []struct {
			UserID string `json:"userId"`
		} `json:"winners"`
	}
	body := `{"pool_cents":100,"poolCents":250,"winners":[{"user_id":"u1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	if err := decodeJSON(httptest.NewRecorder(), req, &dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.PoolCents != 250 {
		t.Fatalf("expected camelCase to win, got %d", dst.PoolCents)
	}
	if len(dst.Winners) != 1 || dst.Winners[0].UserID != "u1" {
		t.Fatalf("expected nested snake_case key to decode, got %+v", dst.Winners)
	}
}

func TestDecodeJSON_Rejects(t *testing.T) {
	for _, body := range []string{"", "{", `{"poolCents":"many"}`} {
		var dst struct {
			PoolCents int64 `json:"poolCents"`
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if err := decodeJSON(httptest.NewRecorder(), req, &dst); err == nil {
			t.Fatalf("expected error for body %q", body)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	if got := getClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := getClientIP(req); got != "198.51.100.2" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := getClientIP(req); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
