package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/danmuck/peerlink/internal/testutil/testlog"
)

func TestSharedTokenAdmit(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  SharedToken
		input   string
		wantErr error
	}{
		{name: "empty stored token denies", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "missing hello token denies", stored: "abc", input: "", wantErr: ErrUnauthorized},
		{name: "mismatch denies", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "match admits", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Admit(session.Hello{HostID: "h", SessionID: "s", Token: tc.input})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestHostAllowlist(t *testing.T) {
	testlog.Start(t)
	l := HostAllowlist{"host.a", " host.b "}
	if err := l.Admit(session.Hello{HostID: "host.b"}); err != nil {
		t.Fatalf("expected host.b admitted, got %v", err)
	}
	if err := l.Admit(session.Hello{HostID: "host.c"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestPolicyCombinesRules(t *testing.T) {
	testlog.Start(t)
	if Policy("", nil) != nil {
		t.Fatalf("expected open policy")
	}
	if Hook(nil) != nil {
		t.Fatalf("expected nil hook for open policy")
	}

	hook := Hook(Policy("secret", []string{"host.a"}))
	cases := []struct {
		hello session.Hello
		ok    bool
	}{
		{session.Hello{HostID: "host.a", Token: "secret"}, true},
		{session.Hello{HostID: "host.a", Token: "wrong"}, false},
		{session.Hello{HostID: "host.z", Token: "secret"}, false},
	}
	for _, tc := range cases {
		err := hook(tc.hello)
		if (err == nil) != tc.ok {
			t.Fatalf("hello %+v: ok=%v err=%v", tc.hello, tc.ok, err)
		}
	}
}

func TestAdmitFunc(t *testing.T) {
	testlog.Start(t)
	a := AdmitFunc(func(h session.Hello) error {
		if !h.Reconnect {
			return ErrUnauthorized
		}
		return nil
	})
	if err := a.Admit(session.Hello{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := a.Admit(session.Hello{Reconnect: true}); err != nil {
		t.Fatalf("expected admit, got %v", err)
	}
}
