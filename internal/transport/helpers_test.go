package transport

import (
	"net/http/httptest"
	"testing"

	"github.com/danmuck/peerlink/internal/peer"
)

func httptestServer(t *testing.T, srv *peer.Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return ts
}
