package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-server/internal/router"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var users = map[string]string{
	"alice": "pw1",
	"bob":   "pw2",
	"carol": "pw3",
	"dave":  "pw4",
}

func serverConfig(framing, policy string) config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.Host = "127.0.0.1"
	cfg.Framing = framing
	cfg.DuplicateLogin = policy
	return cfg
}

func startServer(t *testing.T, cfg config.ServerConfig, m *metrics.Metrics) (*Server, *router.Router, string) {
	t.Helper()
	r := router.New(cfg.DuplicateLogin, m)
	s := New(cfg, r, auth.NewAuthenticator(auth.NewCredentialStore(users), m), m)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("Serve did not return after Close")
		}
	})
	return s, r, ln.Addr().String()
}

type lineClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &lineClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *lineClient) expect(t *testing.T, want string) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	line, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSuffix(line, "\n"))
}

func (c *lineClient) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, err := c.reader.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func login(t *testing.T, addr string, r *router.Router, username string) *lineClient {
	t.Helper()
	c := dial(t, addr)
	c.expect(t, auth.PromptUsername)
	c.send(t, username)
	c.expect(t, auth.PromptPassword)
	c.send(t, users[username])
	c.expect(t, auth.ReplyWelcome)
	require.Eventually(t, func() bool { return r.IsOnline(username) }, waitFor, 5*time.Millisecond)
	return c
}

func TestChatScenario(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), nil)

	alice := login(t, addr, r, "alice")
	bob := login(t, addr, r, "bob")
	carol := login(t, addr, r, "carol")

	alice.send(t, "/broadcast hi")
	bob.expect(t, "alice: hi")
	carol.expect(t, "alice: hi")

	alice.send(t, "/msg bob hello there")
	bob.expect(t, "[alice] hello there")

	alice.send(t, "/msg dave x")
	alice.expect(t, "User dave not found.")

	alice.send(t, "/group create team")
	alice.expect(t, "Group team created successfully.")
	bob.send(t, "/group join team")
	bob.expect(t, "You have joined group team.")
	alice.send(t, "/group msg team hello")
	bob.expect(t, "[Group team from alice] hello")

	carol.send(t, "/group leave team")
	carol.expect(t, "You are not a member of group team.")
	carol.send(t, "/group join nope")
	carol.expect(t, "Group nope not found.")

	bob.send(t, "/group members team")
	bob.expect(t, "Members of group team: alice, bob")

	alice.send(t, "/group dance team")
	alice.expect(t, "Invalid group command.")
	alice.send(t, "hello?")
	alice.expect(t, "Invalid command.")
	alice.send(t, "/msg")
	alice.expect(t, "Invalid command.")
}

func TestAliasesBehaveLikeCanonicalCommands(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), nil)

	alice := login(t, addr, r, "alice")
	bob := login(t, addr, r, "bob")

	alice.send(t, "/create_group team")
	alice.expect(t, "Group team created successfully.")
	bob.send(t, "/join_group team")
	bob.expect(t, "You have joined group team.")
	bob.send(t, "/group_msg team yo")
	alice.expect(t, "[Group team from bob] yo")
	bob.send(t, "/leave_group team")
	bob.expect(t, "You have left group team.")
	bob.send(t, "/leave_group team")
	bob.expect(t, "You are not a member of group team.")
}

func TestAuthenticationFailureClosesConnection(t *testing.T) {
	m := metrics.NewMetrics()
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), m)

	c := dial(t, addr)
	c.expect(t, auth.PromptUsername)
	c.send(t, "alice")
	c.expect(t, auth.PromptPassword)
	c.send(t, "wrong")
	c.expect(t, auth.ReplyFailed)
	c.expectClosed(t)

	assert.False(t, r.IsOnline("alice"))
	expected := `
# HELP chat_auth_attempts_total Authentication attempts by result.
# TYPE chat_auth_attempts_total counter
chat_auth_attempts_total{result="failure"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "chat_auth_attempts_total"))
}

func TestDisconnectUnregistersButKeepsMembership(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), nil)

	alice := login(t, addr, r, "alice")
	bob := login(t, addr, r, "bob")

	bob.send(t, "/group create team")
	bob.expect(t, "Group team created successfully.")
	require.NoError(t, bob.conn.Close())
	require.Eventually(t, func() bool { return !r.IsOnline("bob") }, waitFor, 5*time.Millisecond)

	members, err := r.Members("team")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, members)

	alice.send(t, "/msg bob ping")
	alice.expect(t, "User bob not found.")
	alice.send(t, "/group msg team ping")
	alice.send(t, "/group members team")
	alice.expect(t, "Members of group team: bob")
}

func TestQuitEndsSession(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), nil)

	alice := login(t, addr, r, "alice")
	alice.send(t, "/quit")
	alice.expectClosed(t)
	require.Eventually(t, func() bool { return !r.IsOnline("alice") }, waitFor, 5*time.Millisecond)
}

func TestDuplicateLoginReject(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReject), nil)

	first := login(t, addr, r, "alice")

	second := dial(t, addr)
	second.expect(t, auth.PromptUsername)
	second.send(t, "alice")
	second.expect(t, auth.PromptPassword)
	second.send(t, "pw1")
	second.expect(t, auth.ReplyWelcome)
	second.expect(t, "User alice is already logged in.")
	second.expectClosed(t)

	bob := login(t, addr, r, "bob")
	bob.send(t, "/msg alice still here")
	first.expect(t, "[bob] still here")
}

func TestDuplicateLoginKick(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginKick), nil)

	first := login(t, addr, r, "alice")
	second := login(t, addr, r, "alice")
	first.expectClosed(t)

	bob := login(t, addr, r, "bob")
	bob.send(t, "/msg alice hi")
	second.expect(t, "[bob] hi")
}

func TestRawFraming(t *testing.T) {
	_, r, addr := startServer(t, serverConfig(config.FramingRaw, config.LoginReplace), nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	expect := func(want string) {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
		buf := make([]byte, len(want))
		_, err := io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, want, string(buf))
	}
	write := func(payload string) {
		t.Helper()
		_, err := conn.Write([]byte(payload))
		require.NoError(t, err)
	}

	expect(auth.PromptUsername)
	write("alice\r\n")
	expect(auth.PromptPassword)
	write("pw1\x00garbage")
	expect(auth.ReplyWelcome)
	require.Eventually(t, func() bool { return r.IsOnline("alice") }, waitFor, 5*time.Millisecond)

	write("/msg alice note to self")
	expect("[alice] note to self")
	write("nonsense")
	expect("Invalid command.")
}

func TestWebSocketSession(t *testing.T) {
	s, r, addr := startServer(t, serverConfig(config.FramingLine, config.LoginReplace), nil)

	httpServer := httptest.NewServer(s.WebSocketHandler())
	defer httpServer.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	expect := func(want string) {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(waitFor)))
		_, payload, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(payload))
	}
	write := func(payload string) {
		t.Helper()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(payload)))
	}

	expect(auth.PromptUsername)
	write("carol")
	expect(auth.PromptPassword)
	write("pw3")
	expect(auth.ReplyWelcome)
	require.Eventually(t, func() bool { return r.IsOnline("carol") }, waitFor, 5*time.Millisecond)

	alice := login(t, addr, r, "alice")
	alice.send(t, "/msg carol over websocket")
	expect("[alice] over websocket")

	write("/broadcast from the browser")
	alice.expect(t, "carol: from the browser")
}

func TestShutdownClosesSessions(t *testing.T) {
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	r := router.New(cfg.DuplicateLogin, nil)
	s := New(cfg, r, auth.NewAuthenticator(auth.NewCredentialStore(users), nil), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(ln) }()

	alice := login(t, ln.Addr().String(), r, "alice")
	pending := dial(t, ln.Addr().String())
	pending.expect(t, auth.PromptUsername)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Invoke(ctx))

	alice.expectClosed(t)
	pending.expectClosed(t)
	assert.False(t, r.IsOnline("alice"))
}

func counterTotal(m *metrics.Metrics, name string) float64 {
	families, err := m.Registry().Gather()
	if err != nil {
		return 0
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestWriteTimeoutBoundsStalledRecipient(t *testing.T) {
	m := metrics.NewMetrics()
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	cfg.WriteTimeout = "200ms"
	cfg.BufferSize = 64 * 1024
	_, r, addr := startServer(t, cfg, m)

	alice := login(t, addr, r, "alice")
	login(t, addr, r, "bob") // never reads again
	carol := login(t, addr, r, "carol")
	dave := login(t, addr, r, "dave")

	line := []byte("/msg bob " + strings.Repeat("x", 32*1024) + "\n")
	flooding := make(chan struct{})
	go func() {
		defer close(flooding)
		for {
			if _, err := alice.conn.Write(line); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = alice.conn.Close()
		<-flooding
	}()

	require.Eventually(t, func() bool {
		return counterTotal(m, "chat_delivery_failures_total") > 0
	}, 30*time.Second, 20*time.Millisecond, "sends to the stalled recipient never timed out")

	start := time.Now()
	dave.send(t, "/msg carol ok")
	carol.expect(t, "[dave] ok")
	assert.Less(t, time.Since(start), waitFor)
}

func TestMaxConnectionsDefersNewSessions(t *testing.T) {
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	cfg.MaxConnections = 1
	_, r, addr := startServer(t, cfg, nil)

	alice := login(t, addr, r, "alice")

	waiting := dial(t, addr)
	require.NoError(t, waiting.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err := waiting.reader.ReadString('\n')
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "no prompt while the only slot is taken")

	require.NoError(t, alice.conn.Close())
	waiting.expect(t, auth.PromptUsername)
}

func TestCloseReleasesAcceptLoopWaitingForSlot(t *testing.T) {
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	cfg.MaxConnections = 1
	s, r, addr := startServer(t, cfg, nil)

	login(t, addr, r, "alice")
	dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Invoke(ctx))
}

func TestTrackRefusedAfterClose(t *testing.T) {
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	s := New(cfg, router.New(cfg.DuplicateLogin, nil), auth.NewAuthenticator(auth.NewCredentialStore(users), nil), nil)

	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	live := connection.NewTCPConn(server, connection.Options{})
	require.True(t, s.track(live))

	require.NoError(t, s.Close())
	assert.False(t, s.track(connection.NewTCPConn(server, connection.Options{})))

	s.untrack(live)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Invoke(ctx))
}

func TestShutdownWhileClientsConnect(t *testing.T) {
	cfg := serverConfig(config.FramingLine, config.LoginReplace)
	s, _, addr := startServer(t, cfg, nil)
	httpServer := httptest.NewServer(s.WebSocketHandler())
	defer httpServer.Close()
	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if conn, err := net.Dial("tcp", addr); err == nil {
					_ = conn.Close()
				}
				if ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
					_ = ws.Close()
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	assert.NoError(t, s.Invoke(ctx))

	close(stop)
	wg.Wait()
}
