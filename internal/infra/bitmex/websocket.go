package bitmex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"liquidbot/internal/infra"
	"liquidbot/internal/store"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsConnectTimeout   = 5 * time.Second
	wsSnapshotTimeout  = 30 * time.Second
	wsSnapshotPoll     = 100 * time.Millisecond
	wsReadTimeout      = 35 * time.Second
	wsPingInterval     = 25 * time.Second

	// wsAuthPath is the nominal endpoint string signed during the handshake.
	// It is not a resource path any REST call uses.
	wsAuthPath = "/realtime"
)

// SessionState tracks the streaming connection lifecycle.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAwaitingSnapshot
	StateLive
	StateClosed
	StateError
)

// Session owns the one long-lived streaming connection to the exchange and
// feeds every decoded table delta into the mirror store.
//
// A closed or errored session is terminal for this process: the agent exits
// and the supervisor restarts it, which rebuilds the mirror from a fresh
// snapshot instead of attempting delta replay.
type Session struct {
	store  *store.Store
	signer *Signer
	logger *slog.Logger

	symbol     string
	endpoint   string
	email      string
	password   string
	shouldAuth bool

	conn    *websocket.Conn
	writeMu sync.Mutex
	state   atomic.Int32
	exited  atomic.Bool
	lastErr atomic.Value
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession wires a streaming session for the given client credentials.
// Authentication is skipped in dry-run mode where no account tables exist.
func NewSession(c *Client, st *store.Store, shouldAuth bool) *Session {
	return &Session{
		store:      st,
		signer:     c.signer,
		logger:     slog.Default().With("module", "bitmex_ws"),
		symbol:     c.symbol,
		endpoint:   c.baseURL.String(),
		email:      c.email,
		password:   c.password,
		shouldAuth: shouldAuth,
	}
}

// Connect opens the connection, subscribes, and blocks until every
// subscribed table has delivered its initial snapshot.
func (s *Session) Connect(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))

	wsURL, err := s.buildURL()
	if err != nil {
		return s.fail(err)
	}
	s.logger.Info("connecting websocket", "url", wsURL)

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, wsConnectTimeout+wsHandshakeTimeout)
	conn, _, err := dialer.DialContext(dialCtx, wsURL, s.authHeaders())
	cancel()
	if err != nil {
		return s.fail(fmt.Errorf("websocket dial: %w", err))
	}
	s.conn = conn

	runCtx, runCancel := context.WithCancel(ctx)
	s.cancel = runCancel
	s.wg.Add(2)
	go s.readLoop(runCtx)
	go s.pingLoop(runCtx)

	s.state.Store(int32(StateAwaitingSnapshot))
	s.logger.Info("connected, waiting for table snapshots")

	if err := s.waitForTables(ctx, store.TableInstrument, store.TableTrade, store.TableQuote); err != nil {
		s.Close()
		return s.fail(err)
	}
	if s.shouldAuth {
		if err := s.waitForTables(ctx, store.TableMargin, store.TablePosition, store.TableOrder); err != nil {
			s.Close()
			return s.fail(err)
		}
	}

	s.state.Store(int32(StateLive))
	infra.GlobalMetrics.SetWSConnected(true)
	s.logger.Info("got all table snapshots, mirror is live")
	return nil
}

// buildURL rewrites the REST base URL into the realtime endpoint and packs
// the full topic set into the subscribe query parameter.
func (s *Session) buildURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = wsAuthPath
	u.RawQuery = "subscribe=" + strings.Join(s.subscriptions(), ",")
	return u.String(), nil
}

// subscriptions returns topic:symbol pairs plus the symbol-independent
// tables. Account topics are only requested when authenticated.
func (s *Session) subscriptions() []string {
	subs := []string{
		store.TableQuote + ":" + s.symbol,
		store.TableTrade + ":" + s.symbol,
		store.TableInstrument,
	}
	if s.shouldAuth {
		subs = append(subs,
			store.TableOrder+":"+s.symbol,
			store.TableExecution+":"+s.symbol,
			store.TableMargin,
			store.TablePosition,
		)
	}
	return subs
}

// authHeaders signs the nominal /realtime endpoint with a nonce, or falls
// back to the email/password pair when no key is configured.
func (s *Session) authHeaders() http.Header {
	if !s.shouldAuth {
		return nil
	}
	h := http.Header{}
	if s.signer != nil {
		nonce := s.signer.Nonce()
		h.Set("api-nonce", strconv.FormatInt(nonce, 10))
		h.Set("api-signature", s.signer.Sign(http.MethodGet, wsAuthPath, nonce, ""))
		h.Set("api-key", s.signer.Key())
		return h
	}
	h.Set("email", s.email)
	h.Set("password", s.password)
	return h
}

func (s *Session) waitForTables(ctx context.Context, tables ...string) error {
	deadline := time.NewTimer(wsSnapshotTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(wsSnapshotPoll)
	defer tick.Stop()

	for !s.store.HasTables(tables...) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for snapshots: %v", tables)
		case <-tick.C:
			if s.exited.Load() {
				return fmt.Errorf("session exited before snapshots arrived: %w", s.Err())
			}
		}
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("websocket read: %w", err))
			}
			s.markExited()
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound frame. Malformed messages are logged
// and dropped; the session only dies on transport or protocol-fatal errors.
func (s *Session) handleMessage(msg []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Warn("malformed message dropped", "error", err)
		return
	}

	switch {
	case env.Subscribe != "":
		if env.Success {
			s.logger.Debug("subscribed", "topic", env.Subscribe)
		} else {
			s.fail(fmt.Errorf("unable to subscribe to %s: %s", env.Subscribe, env.Error))
			s.markExited()
		}

	case env.Status != 0:
		// 400/401 at the protocol level means the handshake is unusable.
		if env.Status == http.StatusBadRequest || env.Status == http.StatusUnauthorized {
			s.fail(fmt.Errorf("streaming status %d: %s", env.Status, env.Error))
			s.markExited()
		}

	case env.Table != "":
		err := s.store.Apply(&store.TableMessage{
			Table:  env.Table,
			Action: env.Action,
			Keys:   env.Keys,
			Data:   env.Data,
		})
		if err != nil {
			s.logger.Warn("delta dropped", "table", env.Table, "error", err)
			return
		}
		infra.GlobalMetrics.RecordDelta()
	}
}

// Exited reports whether the session has terminated. The owning process
// treats a true value as fatal for this instance.
func (s *Session) Exited() bool {
	return s.exited.Load()
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Err returns the error that moved the session into the Error state, if any.
func (s *Session) Err() error {
	if err, ok := s.lastErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.lastErr.Store(err)
	s.state.Store(int32(StateError))
	infra.GlobalMetrics.RecordError()
	s.logger.Error("streaming session error", "error", err)
	return err
}

func (s *Session) markExited() {
	if s.exited.CompareAndSwap(false, true) {
		infra.GlobalMetrics.SetWSConnected(false)
		s.logger.Info("streaming session exited")
	}
}

// Close tears the connection down. Used on shutdown only; the session never
// reconnects in place.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.markExited()
	s.wg.Wait()
	if s.State() != StateError {
		s.state.Store(int32(StateClosed))
	}
}
