package smtpprobe

import (
	"errors"
	"net/textproto"
	"testing"
)

func TestIsNoSuchUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"explicit unknown user phrase", errors.New("550 5.1.1 user unknown"), true},
		{"recipient rejected", errors.New("550 Recipient rejected"), true},
		{"5.1.1 status code in text", errors.New("smtp error: 5.1.1 no such mailbox"), true},
		{"block keyword wins over 550 code", &textproto.Error{Code: 550, Msg: "blocked for policy reasons"}, false},
		{"rate limit is not no-such-user", errors.New("450 4.2.1 rate limit exceeded, try later"), false},
		{"greylisted is not no-such-user", errors.New("451 greylisted, try again"), false},
		{"bare 550 code with no keywords", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, true},
		{"bare 553 code with no keywords", &textproto.Error{Code: 553, Msg: "mailbox name not allowed"}, true},
		{"bare 250 success code", &textproto.Error{Code: 250, Msg: "ok"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNoSuchUserError(tc.err); got != tc.want {
				t.Errorf("IsNoSuchUserError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"structured 450", &textproto.Error{Code: 450, Msg: "mailbox busy"}, true},
		{"structured 452", &textproto.Error{Code: 452, Msg: "insufficient storage"}, true},
		{"structured 550 is not rate limit", &textproto.Error{Code: 550, Msg: "no such user"}, false},
		{"text mentions rate limit", errors.New("too many requests, rate limit exceeded"), true},
		{"unrelated error", errors.New("connection reset by peer"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRateLimitError(tc.err); got != tc.want {
				t.Errorf("IsRateLimitError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsStrictEnterprise(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"mx1.mimecast.com", true},
		{"us1.pphosted.com", true},
		{"aspmx.l.google.com", false},
		{"mx.example.com", false},
	}
	for _, tc := range tests {
		if got := isStrictEnterprise(tc.host); got != tc.want {
			t.Errorf("isStrictEnterprise(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}
