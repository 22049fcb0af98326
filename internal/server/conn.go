package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/sql/executor"
)

// conn serves one client: reads newline-delimited JSON requests, writes
// responses in request order. Per-socket writes are serialized by the single
// reader loop.
type conn struct {
	srv  *Server
	sock net.Conn
	enc  *json.Encoder
	sess *engine.Session
	log  *zap.Logger
}

func (s *Server) serveConn(sock net.Conn) {
	defer sock.Close()
	s.stats.ConnectionsTotal.Inc()
	s.stats.ConnectionsActive.Inc()
	defer s.stats.ConnectionsActive.Dec()

	c := &conn{
		srv:  s,
		sock: sock,
		enc:  json.NewEncoder(sock),
		sess: &engine.Session{ID: uuid.NewString()},
		log:  s.log.With(zap.String("remote", sock.RemoteAddr().String())),
	}
	c.write(welcomeFrame())

	scanner := bufio.NewScanner(sock)
	scanner.Buffer(make([]byte, 64<<10), MaxLineBytes)

	for {
		// inactivity beyond the query timeout closes the connection
		_ = sock.SetReadDeadline(time.Now().Add(s.queryTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					c.log.Warn("request exceeded frame limit, closing connection")
					c.write(errorFrame("Request too large"))
				} else if !isClosedErr(err) {
					c.log.Debug("connection read ended", zap.Error(err))
				}
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			c.write(errorFrame("Invalid request: " + err.Error()))
			continue
		}
		c.handle(req)
	}
}

func (c *conn) write(frame any) {
	if err := c.enc.Encode(frame); err != nil {
		c.log.Debug("response write failed", zap.Error(err))
	}
}

func (c *conn) fail(msg string) {
	c.srv.stats.ErrorsTotal.Inc()
	c.write(errorFrame(msg))
}

func (c *conn) handle(req Request) {
	// authentication gate: when users are configured, only auth passes
	if c.srv.authRequired() && !c.sess.Authenticated && req.Type != "auth" {
		c.fail("Authentication required")
		return
	}

	switch req.Type {
	case "auth":
		c.handleAuth(req)
	case "use":
		c.handleUse(req)
	case "query":
		c.handleQuery(req)
	case "ping":
		c.write(map[string]any{"type": "pong", "time": time.Now().UnixMilli()})
	case "list_databases":
		names, err := c.srv.listDatabases()
		if err != nil {
			c.fail(err.Error())
			return
		}
		c.write(map[string]any{"type": "database_list", "databases": names})
	case "drop_database":
		var p DropPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			c.fail("Invalid payload")
			return
		}
		if err := c.srv.dropDatabase(p.Database); err != nil {
			c.fail(err.Error())
			return
		}
		if c.sess.CurrentDatabase == p.Database {
			c.sess.CurrentDatabase = ""
		}
		c.write(map[string]any{"type": "drop_success", "database": p.Database})
	case "stats":
		c.write(c.srv.stats.Snapshot())
	default:
		c.fail(fmt.Sprintf("Unknown request type %q", req.Type))
	}
}

func (c *conn) handleAuth(req Request) {
	var p AuthPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.fail("Invalid payload")
		return
	}
	if !c.srv.authenticate(p.Username, p.Password) {
		c.fail("Invalid credentials")
		return
	}
	c.sess.Authenticated = true
	c.write(map[string]any{"type": "auth_success", "username": p.Username})
}

func (c *conn) handleUse(req Request) {
	var p UsePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.fail("Invalid payload")
		return
	}
	if err := c.srv.selectDatabase(c.sess, p.Database); err != nil {
		c.fail(err.Error())
		return
	}
	c.write(map[string]any{"type": "use_success", "database": p.Database})
}

func (c *conn) handleQuery(req Request) {
	var p QueryPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.fail("Invalid payload")
		return
	}
	c.srv.stats.QueriesTotal.Inc()

	start := time.Now()

	// server-level statements run without a current database
	if sc, ok := parseServerStatement(p.Query); ok {
		result, err := c.srv.execServerStatement(c.sess, sc)
		if err != nil {
			c.fail(err.Error())
			return
		}
		c.write(queryResultFrame(result, p.Query, elapsedMs(start)))
		return
	}

	if c.sess.CurrentDatabase == "" {
		c.fail("No database selected")
		return
	}

	sess := c.sess
	result, err := c.srv.pool.Dispatch(sess.CurrentDatabase, c.srv.queryTimeout,
		func(_ *engine.Database, exec *executor.Executor) (any, error) {
			return exec.ExecSQL(p.Query, p.Params, sess)
		})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.srv.stats.TimeoutsTotal.Inc()
		}
		c.fail(err.Error())
		return
	}
	c.write(queryResultFrame(result, p.Query, elapsedMs(start)))
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
