package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/connmux/internal/auth"
	"github.com/rickgao/connmux/internal/config"
	"github.com/rickgao/connmux/internal/connection"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		in      string
		want    message
		wantErr bool
	}{
		{in: "logs=hello", want: message{channel: "logs", payload: "hello"}},
		{in: "logs=a=b", want: message{channel: "logs", payload: "a=b"}},
		{in: "logs=", want: message{channel: "logs", payload: ""}},
		{in: "logs", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseMessage(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMessage(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMessage(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMessage(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseChannels(t *testing.T) {
	got := parseChannels(" logs, ,metrics,")
	if len(got) != 2 || got[0] != "logs" || got[1] != "metrics" {
		t.Errorf("parseChannels = %v, want [logs metrics]", got)
	}
}

func TestSendFlags(t *testing.T) {
	var s sendFlags
	if err := s.Set("logs=one"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("metrics=two"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, want := s.String(), "logs=one,metrics=two"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRun(t *testing.T) {
	received := make(chan string, 1)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The client subscribes before it sends
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"logs","data":"hello"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"other","data":"ignored"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"logs","data":"world"}`))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.ReadMessage()
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Client.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Connection.PingInterval = -1
	cfg.Channels = []string{"logs"}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, cfg, []message{{channel: "control", payload: "ready"}}, &out, slog.Default())
	if !errors.Is(err, connection.ErrTransportClosed) {
		t.Errorf("run() = %v, want ErrTransportClosed", err)
	}

	select {
	case got := <-received:
		if want := `{"channel":"control","data":"ready"}`; got != want {
			t.Errorf("server received %s, want %s", got, want)
		}
	default:
		t.Error("server received nothing")
	}

	if got, want := out.String(), "[logs] hello\n[logs] world\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Client.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Connection.PingInterval = -1
	cfg.Channels = []string{"logs"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := run(ctx, cfg, nil, &bytes.Buffer{}, slog.Default()); err != nil {
		t.Errorf("run() = %v, want nil on cancel", err)
	}
}

func TestHandshakeHeader(t *testing.T) {
	header, err := handshakeHeader(config.ClientConfig{URL: "ws://localhost:8080/_connmux"})
	if err != nil || header != nil {
		t.Fatalf("handshakeHeader without auth = (%v, %v), want (nil, nil)", header, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "tail.pem")
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	cc := config.ClientConfig{
		URL:  "ws://localhost:8080/_connmux",
		Auth: config.ClientAuthConfig{KeyID: "tail-1", PrivateKeyPath: keyPath},
	}
	header, err = handshakeHeader(cc)
	if err != nil {
		t.Fatalf("handshakeHeader failed: %v", err)
	}

	// The server side must accept what was signed
	req := httptest.NewRequest(http.MethodGet, "/_connmux", nil)
	req.Header = header
	v := auth.NewVerifier(map[string]*rsa.PublicKey{"tail-1": &key.PublicKey}, 0)
	if _, err := v.Verify(req); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}
}
