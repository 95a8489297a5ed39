// Package auth decides which hosts a peer admits at handshake time.
//
// Admission only inspects the hello; it never touches the event stream.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/peerlink/internal/protocol/session"
)

var ErrUnauthorized = errors.New("auth: host unauthorized")

// Admitter accepts or rejects a host hello.
type Admitter interface {
	Admit(hello session.Hello) error
}

// SharedToken admits hosts presenting the same token.
// An empty SharedToken admits nobody.
type SharedToken string

func (s SharedToken) Admit(hello session.Hello) error {
	if s == "" || hello.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s), []byte(hello.Token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// HostAllowlist admits only the listed host ids.
type HostAllowlist []string

func (l HostAllowlist) Admit(hello session.Hello) error {
	id := strings.TrimSpace(hello.HostID)
	for _, allowed := range l {
		if strings.TrimSpace(allowed) == id {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q not allowed", ErrUnauthorized, id)
}

// AdmitFunc adapts a function into an Admitter.
type AdmitFunc func(hello session.Hello) error

func (f AdmitFunc) Admit(hello session.Hello) error {
	return f(hello)
}

// All requires every admitter to accept.
type All []Admitter

func (all All) Admit(hello session.Hello) error {
	for _, a := range all {
		if err := a.Admit(hello); err != nil {
			return err
		}
	}
	return nil
}

// Policy builds the admitter for a peer config: a shared token when token
// is set, an allowlist when hosts is non-empty. Nil means admit everyone.
func Policy(token string, hosts []string) Admitter {
	var all All
	if strings.TrimSpace(token) != "" {
		all = append(all, SharedToken(token))
	}
	if len(hosts) > 0 {
		all = append(all, HostAllowlist(hosts))
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

// Hook adapts a into the peer server's AcceptHost callback.
func Hook(a Admitter) func(session.Hello) error {
	if a == nil {
		return nil
	}
	return a.Admit
}
