package agentlink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// platformConfig scripts the fake agent platform's behavior.
type platformConfig struct {
	welcome     string                    // unsolicited output sent right after session.ready
	reply       func(text string) []frame // frames to emit per user.text; nil means echo
	silent      bool                      // never answer user.text
	requireAuth string                    // bearer token to enforce, "" disables the check
}

// fakePlatform is an in-process agent platform speaking the session wire
// protocol over WebSocket.
type fakePlatform struct {
	cfg      platformConfig
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	open    int // currently open connections
	total   int // connections ever accepted
	convSeq int
}

func newFakePlatform(t *testing.T, cfg platformConfig) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agents/", p.handleSession)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) wsURL() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakePlatform) openConns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePlatform) totalConns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *fakePlatform) handleSession(w http.ResponseWriter, r *http.Request) {
	if p.cfg.requireAuth != "" && r.Header.Get("Authorization") != "Bearer "+p.cfg.requireAuth {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.open++
	p.total++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	send := func(f frame) {
		data, err := json.Marshal(f)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}

		switch f.Type {
		case frameSessionInit:
			p.mu.Lock()
			p.convSeq++
			id := fmt.Sprintf("conv-%d", p.convSeq)
			p.mu.Unlock()
			send(frame{Type: frameSessionReady, ConversationID: id})
			if p.cfg.welcome != "" {
				send(frame{Type: frameAgentOutput, Text: p.cfg.welcome, Final: true, Source: "text"})
			}

		case frameUserText:
			if p.cfg.silent {
				continue
			}
			if p.cfg.reply != nil {
				for _, rf := range p.cfg.reply(f.Text) {
					send(rf)
				}
				continue
			}
			send(frame{Type: frameAgentOutput, Text: "echo: " + f.Text, Final: true})
		}
	}
}
