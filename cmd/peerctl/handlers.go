package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/peerlink/internal/bridge"
	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/peer"
	"github.com/danmuck/peerlink/internal/protocol/session"
)

// fileStore assigns stable paths to saved file ids.
type fileStore struct {
	mu    sync.Mutex
	paths map[int]string
}

func newFileStore() *fileStore {
	return &fileStore{paths: make(map[int]string)}
}

func (s *fileStore) save(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.paths[id]; ok {
		return p
	}
	p := fmt.Sprintf("/p/%d", id)
	s.paths[id] = p
	return p
}

func registerDemoHandlers(srv *peer.Server, store *fileStore, quit context.CancelFunc) {
	srv.Handle("save", peer.Respond("saved", func(_ context.Context, ev session.Event) (any, error) {
		var id int
		if err := ev.Decode(0, &id); err != nil {
			return nil, fmt.Errorf("save: file id: %w", err)
		}
		return store.save(id), nil
	}))
	srv.Handle("echo", peer.Echo("echoed"))
	srv.Handle(bridge.EventQuit, peer.Notify(func(_ context.Context, req session.Event) {
		logging.Infof("peerctl quit requested event=%s", req.Name)
		quit()
	}))
	srv.Handle(bridge.EventRestart, peer.Notify(func(context.Context, session.Event) {
		if err := srv.Broadcast("restarting"); err != nil {
			logging.Warnf("peerctl restart notice failed: %v", err)
		}
		logging.Infof("peerctl restart requested; dropped hosts=%d", srv.DropConnections())
	}))
}
