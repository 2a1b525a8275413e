// Package gateway owns the duplex WebSocket channel to the in-page
// instrumentation agent (the browser extension). It serializes outbound
// frames, correlates extraction requests to their responses, and
// dispatches inbound commands to the engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer. Snapshots of large forms
	// can run to hundreds of kilobytes.
	maxMessageSize = 2048 * 2048
	// requestIDLength is the short correlation id size in hex chars.
	requestIDLength = 12
)

var (
	// ErrNoActiveConnection is returned when an operation needs the
	// extension but no connection is currently active.
	ErrNoActiveConnection = errors.New("no active extension connection")
	// ErrExtractionTimeout is returned when a correlated extraction
	// request expires before its response arrives.
	ErrExtractionTimeout = errors.New("extraction request timed out")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The extension connects from an extension:// origin.
		return true
	},
}

// Handlers are the engine callbacks inbound frames dispatch to. The
// gateway stays ignorant of how analysis and filling work.
type Handlers struct {
	// OnFormExtracted analyzes a pushed snapshot.
	OnFormExtracted func(ctx context.Context, form *schemas.ExtractedForm) (*schemas.FormAnalysis, error)
	// OnFillForm executes one fill command. It runs on its own goroutine;
	// see RequestExtraction for why it must never run on the read loop.
	OnFillForm func(ctx context.Context, analysis *schemas.FormAnalysis, progress func(string)) schemas.FillOutcome
	// OnConnectCDP (re)connects the browser automation driver.
	OnConnectCDP func(ctx context.Context) error
	// OnStatus reports current engine state for status queries.
	OnStatus func() any
}

// Gateway holds the single active connection to the extension. A new
// connection replaces the active one; a dropped connection clears it.
type Gateway struct {
	logger   *zap.Logger
	handlers Handlers

	// mu guards the active-connection slot.
	mu   sync.Mutex
	conn *websocket.Conn
	// writeMu serializes whole frames onto the wire.
	writeMu sync.Mutex

	// pendingMu guards the correlation map of in-flight extraction
	// requests. Each entry is a one-shot buffered channel.
	pendingMu sync.Mutex
	pending   map[string]chan *schemas.ExtractedForm
}

// New creates a gateway with no active connection. Handlers are attached
// separately because the fill pipeline needs the gateway as its
// extractor.
func New(logger *zap.Logger) *Gateway {
	return &Gateway{
		logger:  logger.Named("gateway"),
		pending: make(map[string]chan *schemas.ExtractedForm),
	}
}

// SetHandlers attaches the engine callbacks. Must be called before the
// gateway starts accepting connections.
func (g *Gateway) SetHandlers(h Handlers) {
	g.handlers = h
}

// Connected reports whether an extension connection is active.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// HandleWS upgrades an HTTP request and installs the connection as the
// active one, replacing any previous connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	g.mu.Lock()
	old := g.conn
	g.conn = conn
	g.mu.Unlock()
	if old != nil {
		g.logger.Info("Replacing active extension connection")
		old.Close()
	}

	g.logger.Info("Extension connected", zap.String("remote", conn.RemoteAddr().String()))

	done := make(chan struct{})
	go g.pingLoop(conn, done)
	go g.readLoop(conn, done)
}

// readLoop services one connection until it drops. Frames are dispatched
// inline except fill_form, which runs on its own goroutine: a fill issues
// nested extraction requests whose responses only this loop can deliver,
// so running it inline would deadlock.
func (g *Gateway) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
		g.mu.Lock()
		if g.conn == conn {
			g.conn = nil
			g.logger.Info("Extension disconnected")
		}
		g.mu.Unlock()
		// Pending extraction requests are not resolved here; they
		// surface to their callers through the ordinary timeout path.
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Warn("Websocket read error", zap.Error(err))
			}
			return
		}

		var frame schemas.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			g.logger.Error("Unparsable frame from extension", zap.Error(err))
			g.sendError("unparsable message")
			continue
		}

		g.dispatch(&frame)
	}
}

func (g *Gateway) dispatch(frame *schemas.Frame) {
	ctx := context.Background()

	switch frame.Type {
	case schemas.MsgFormExtracted:
		g.handleFormExtracted(ctx, frame)

	case schemas.MsgFillForm:
		g.handleFillForm(ctx, frame)

	case schemas.MsgExtractionResult:
		g.handleExtractionResult(frame)

	case schemas.MsgUpdateField:
		// Acknowledged only. The extension UI is the source of truth for
		// edited mappings; the engine stays stateless across fill
		// commands and always receives the full current analysis.
		g.sendFrame(&schemas.Frame{Type: schemas.MsgFieldUpdated})

	case schemas.MsgConnectCDP:
		if g.handlers.OnConnectCDP == nil {
			g.sendError("CDP reconnect is not available")
			return
		}
		if err := g.handlers.OnConnectCDP(ctx); err != nil {
			g.sendError(fmt.Sprintf("CDP connection failed: %v", err))
			return
		}
		g.sendFrame(&schemas.Frame{Type: schemas.MsgCDPConnected})

	case schemas.MsgPing:
		g.sendFrame(&schemas.Frame{Type: schemas.MsgPong})

	case schemas.MsgStatus:
		var payload any = map[string]bool{"connected": true}
		if g.handlers.OnStatus != nil {
			payload = g.handlers.OnStatus()
		}
		data, _ := json.Marshal(payload)
		g.sendFrame(&schemas.Frame{Type: schemas.MsgStatus, Data: data})

	default:
		g.logger.Warn("Unknown message type", zap.String("type", string(frame.Type)))
		g.sendError(fmt.Sprintf("unknown message type: %s", frame.Type))
	}
}

func (g *Gateway) handleFormExtracted(ctx context.Context, frame *schemas.Frame) {
	if g.handlers.OnFormExtracted == nil {
		g.sendError("form analysis is not available")
		return
	}

	var form schemas.ExtractedForm
	if err := json.Unmarshal(frame.Data, &form); err != nil {
		g.sendError(fmt.Sprintf("invalid form_extracted payload: %v", err))
		return
	}

	g.sendProgress(schemas.MsgAnalyzing, fmt.Sprintf("Analyzing %d fields...", len(form.Fields)))

	analysis, err := g.handlers.OnFormExtracted(ctx, &form)
	if err != nil {
		g.sendError(fmt.Sprintf("analysis failed: %v", err))
		return
	}

	data, err := json.Marshal(analysis)
	if err != nil {
		g.sendError(fmt.Sprintf("failed to encode analysis: %v", err))
		return
	}
	g.sendFrame(&schemas.Frame{Type: schemas.MsgFormAnalysis, Data: data})
}

func (g *Gateway) handleFillForm(ctx context.Context, frame *schemas.Frame) {
	if g.handlers.OnFillForm == nil {
		g.sendError("form filling is not available")
		return
	}

	var analysis schemas.FormAnalysis
	if err := json.Unmarshal(frame.Data, &analysis); err != nil {
		g.sendError(fmt.Sprintf("invalid fill_form payload: %v", err))
		return
	}

	g.sendProgress(schemas.MsgFilling, "Filling form...")

	// Independently scheduled so the read loop stays free to deliver
	// correlated extraction responses the fill depends on.
	go func() {
		outcome := g.handlers.OnFillForm(ctx, &analysis, func(msg string) {
			g.sendProgress(schemas.MsgFillProgress, msg)
		})

		data, err := json.Marshal(outcome)
		if err != nil {
			g.sendError(fmt.Sprintf("failed to encode fill result: %v", err))
			return
		}
		g.sendFrame(&schemas.Frame{Type: schemas.MsgFillResult, Data: data})
	}()
}

func (g *Gateway) handleExtractionResult(frame *schemas.Frame) {
	var payload schemas.ExtractionResultPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		g.logger.Error("Invalid extraction_result payload", zap.Error(err))
		return
	}
	id := payload.RequestID
	if id == "" {
		id = frame.RequestID
	}

	g.pendingMu.Lock()
	ch, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.pendingMu.Unlock()

	if !ok {
		// Late or duplicate response; its request already timed out.
		g.logger.Debug("Extraction result with no pending request", zap.String("request_id", id))
		return
	}
	ch <- &payload.Data
}

// RequestExtraction asks the extension for a fresh snapshot and suspends
// the caller until the correlated response arrives or the timeout
// elapses. The pending entry is removed on every path before returning.
func (g *Gateway) RequestExtraction(ctx context.Context, timeout time.Duration) (*schemas.ExtractedForm, error) {
	if !g.Connected() {
		return nil, ErrNoActiveConnection
	}

	id := newRequestID()
	ch := make(chan *schemas.ExtractedForm, 1)

	g.pendingMu.Lock()
	g.pending[id] = ch
	g.pendingMu.Unlock()
	defer func() {
		g.pendingMu.Lock()
		delete(g.pending, id)
		g.pendingMu.Unlock()
	}()

	if err := g.sendFrame(&schemas.Frame{Type: schemas.MsgRequestExtraction, RequestID: id}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case form := <-ch:
		return form, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (request %s)", ErrExtractionTimeout, timeout, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendFrame serializes one logical frame onto the active connection. The
// write mutex prevents interleaved partial frames.
func (g *Gateway) sendFrame(frame *schemas.Frame) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return ErrNoActiveConnection
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (g *Gateway) sendError(message string) {
	if err := g.sendFrame(&schemas.Frame{Type: schemas.MsgError, Message: message}); err != nil {
		g.logger.Debug("Failed to send error frame", zap.Error(err))
	}
}

func (g *Gateway) sendProgress(msgType schemas.MessageType, message string) {
	if err := g.sendFrame(&schemas.Frame{Type: msgType, Message: message}); err != nil {
		g.logger.Debug("Failed to send progress frame", zap.Error(err))
	}
}

func (g *Gateway) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			g.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			g.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// newRequestID produces the short correlation id carried on
// request_extraction frames.
func newRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:requestIDLength]
}
