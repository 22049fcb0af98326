package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawitdb/sawitdb/internal/config"
)

func TestParseServerStatement(t *testing.T) {
	cases := []struct {
		query string
		verb  string
		name  string
		ok    bool
	}{
		{"CREATE DATABASE mydb;", "CREATE", "mydb", true},
		{"create database mydb", "CREATE", "mydb", true},
		{"BUAT BASISDATA toko;", "CREATE", "toko", true},
		{"USE mydb;", "USE", "mydb", true},
		{"PAKAI toko;", "USE", "toko", true},
		{"SHOW DATABASES;", "SHOW", "", true},
		{"TAMPILKAN BASISDATA;", "SHOW", "", true},
		{"DROP DATABASE mydb;", "DROP", "mydb", true},
		{"HAPUS BASISDATA toko;", "DROP", "toko", true},
		{"SELECT * FROM t;", "", "", false},
		{"CREATE TABLE t;", "", "", false},
		{"DROP TABLE t;", "", "", false},
		{"SHOW TABLES;", "", "", false},
	}
	for _, tc := range cases {
		sc, ok := parseServerStatement(tc.query)
		require.Equal(t, tc.ok, ok, tc.query)
		if ok {
			assert.Equal(t, tc.verb, sc.verb, tc.query)
			assert.Equal(t, tc.name, sc.name, tc.query)
		}
	}
}

func TestValidDBName(t *testing.T) {
	require.NoError(t, validDBName("good_name-1"))
	require.Error(t, validDBName("../evil"))
	require.Error(t, validDBName("a/b"))
	require.Error(t, validDBName(""))
	require.Error(t, validDBName("a b"))
}

// testClient drives the wire protocol over a real TCP connection.
type testClient struct {
	t    *testing.T
	conn net.Conn
	rd   *bufio.Reader
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testClient {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0 // picked below
	cfg.DataDir = t.TempDir()
	cfg.WAL.SyncMode = "never"
	if mutate != nil {
		mutate(cfg)
	}

	// grab a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.Host = "127.0.0.1"
	require.NoError(t, ln.Close())

	srv, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	// wait for the listener
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	var conn net.Conn
	for i := 0; i < 100; i++ {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err, "server never came up")

	c := &testClient{t: t, conn: conn, rd: bufio.NewReader(conn)}
	t.Cleanup(func() { conn.Close() })

	welcome := c.read()
	require.Equal(t, "welcome", welcome["type"])
	return c
}

func (c *testClient) send(req map[string]any) {
	c.t.Helper()
	b, err := json.Marshal(req)
	require.NoError(c.t, err)
	b = append(b, '\n')
	_, err = c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *testClient) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	line, err := c.rd.ReadString('\n')
	require.NoError(c.t, err)
	var frame map[string]any
	require.NoError(c.t, json.Unmarshal([]byte(line), &frame))
	return frame
}

func (c *testClient) roundTrip(req map[string]any) map[string]any {
	c.send(req)
	return c.read()
}

func (c *testClient) query(q string) map[string]any {
	return c.roundTrip(map[string]any{
		"type":    "query",
		"payload": map[string]any{"query": q},
	})
}

func TestServer_EndToEnd(t *testing.T) {
	c := startTestServer(t, nil)

	// ping
	pong := c.roundTrip(map[string]any{"type": "ping"})
	assert.Equal(t, "pong", pong["type"])
	assert.NotNil(t, pong["time"])

	// server-level statements before any database is selected
	res := c.query("CREATE DATABASE shop;")
	require.Equal(t, "query_result", res["type"], "got %v", res)

	res = c.query("SHOW DATABASES;")
	require.Equal(t, "query_result", res["type"])
	assert.Contains(t, res["result"], "shop")

	// use request
	use := c.roundTrip(map[string]any{
		"type":    "use",
		"payload": map[string]any{"database": "shop"},
	})
	require.Equal(t, "use_success", use["type"])

	// worker statements
	res = c.query("CREATE TABLE items;")
	require.Equal(t, "query_result", res["type"], "got %v", res)

	res = c.query("INSERT INTO items (id, name) VALUES (1, 'kopi');")
	require.Equal(t, "query_result", res["type"])
	assert.NotNil(t, res["executionTime"])

	res = c.query("SELECT * FROM items WHERE id = 1;")
	require.Equal(t, "query_result", res["type"])
	rows := res["result"].([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, "kopi", row["name"])

	// parse errors come back as protocol errors, not dropped connections
	res = c.query("NOT A STATEMENT;")
	assert.Equal(t, "error", res["type"])

	// stats
	stats := c.roundTrip(map[string]any{"type": "stats"})
	require.Equal(t, "stats", stats["type"])
	assert.GreaterOrEqual(t, stats["queriesTotal"].(float64), float64(4))

	// list databases request type
	list := c.roundTrip(map[string]any{"type": "list_databases"})
	require.Equal(t, "database_list", list["type"])

	// drop
	drop := c.roundTrip(map[string]any{
		"type":    "drop_database",
		"payload": map[string]any{"database": "shop"},
	})
	require.Equal(t, "drop_success", drop["type"])
}

func TestServer_QueryWithoutDatabase(t *testing.T) {
	c := startTestServer(t, nil)
	res := c.query("SELECT * FROM t;")
	require.Equal(t, "error", res["type"])
	assert.Contains(t, res["error"], "No database selected")
}

func TestServer_AuthGate(t *testing.T) {
	c := startTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Users = map[string]string{"admin": HashPassword("pw")}
	})

	// anything but auth is rejected first
	res := c.query("SHOW DATABASES;")
	require.Equal(t, "error", res["type"])
	assert.Equal(t, "Authentication required", res["error"])

	bad := c.roundTrip(map[string]any{
		"type":    "auth",
		"payload": map[string]any{"username": "admin", "password": "nope"},
	})
	require.Equal(t, "error", bad["type"])

	good := c.roundTrip(map[string]any{
		"type":    "auth",
		"payload": map[string]any{"username": "admin", "password": "pw"},
	})
	require.Equal(t, "auth_success", good["type"])

	res = c.query("SHOW DATABASES;")
	assert.Equal(t, "query_result", res["type"])
}

func TestServer_InvalidDatabaseNameRejected(t *testing.T) {
	c := startTestServer(t, nil)
	res := c.roundTrip(map[string]any{
		"type":    "use",
		"payload": map[string]any{"database": "../traversal"},
	})
	require.Equal(t, "error", res["type"])
}

func TestServer_UnknownRequestType(t *testing.T) {
	c := startTestServer(t, nil)
	res := c.roundTrip(map[string]any{"type": "warp"})
	require.Equal(t, "error", res["type"])
}

func TestServer_StickyAcrossConnections(t *testing.T) {
	c1 := startTestServer(t, nil)
	res := c1.query("CREATE DATABASE shared;")
	require.Equal(t, "query_result", res["type"])
	res = c1.query("USE shared;")
	require.Equal(t, "query_result", res["type"])
	res = c1.query("CREATE TABLE t;")
	require.Equal(t, "query_result", res["type"])

	// second connection to the same server
	addr := c1.conn.RemoteAddr().String()
	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	c2 := &testClient{t: t, conn: conn2, rd: bufio.NewReader(conn2)}
	require.Equal(t, "welcome", c2.read()["type"])

	res = c2.query("USE shared;")
	require.Equal(t, "query_result", res["type"])

	// both connections interleave writes against one file; the sticky
	// worker serializes them
	for i := 0; i < 10; i++ {
		r1 := c1.query(fmt.Sprintf("INSERT INTO t (n) VALUES (%d);", i))
		require.Equal(t, "query_result", r1["type"], "got %v", r1)
		r2 := c2.query(fmt.Sprintf("INSERT INTO t (n) VALUES (%d);", 100+i))
		require.Equal(t, "query_result", r2["type"], "got %v", r2)
	}

	res = c1.query("SELECT COUNT(*) FROM t;")
	require.Equal(t, "query_result", res["type"])
	assert.Equal(t, float64(20), res["result"])
}
