package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/joules/server/audio"
	"github.com/joules/server/meeting"
	"github.com/joules/server/metrics"
	"github.com/joules/server/rpc"
	"github.com/joules/server/session"
	"github.com/joules/server/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// Dependencies are shared by every connection.
type Dependencies struct {
	Store       meeting.Store
	Backend     session.Backend
	Device      audio.Device
	ListWatcher *watch.MeetingListWatcher
}

// RPCHandler handles JSON-RPC 2.0 over WebSocket. Each connection gets its
// own session controller.
type RPCHandler struct {
	token   string
	version string
	devMode bool
	deps    Dependencies
}

func NewRPCHandler(token, version string, devMode bool, deps Dependencies) *RPCHandler {
	return &RPCHandler{
		token:   token,
		version: version,
		devMode: devMode,
		deps:    deps,
	}
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}
	// Picked files travel inside a single message.
	conn.SetReadLimit(64 << 20)

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	connID := uuid.Must(uuid.NewV7()).String()
	log := slog.With("connId", connID)
	log.Info("new websocket connection")
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	stream := newWebSocketStream(wsConn)

	state := &rpcConnState{connID: connID, log: log}

	controller := session.NewController(h.deps.Backend, h.deps.Store, h.deps.Device,
		session.WithLogger(log),
		session.WithChangeListener(state.notifySessionChanged),
	)
	defer controller.Close()

	handler := &rpcMethodHandler{
		RPCHandler: h,
		state:      state,
		controller: controller,
		log:        log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	state.setConn(rpcConn)

	var stopForgetting func()
	if h.deps.ListWatcher != nil {
		stopForgetting = h.deps.ListWatcher.OnEvent(handler.onMeetingChange)
	}

	<-rpcConn.DisconnectNotify()

	if stopForgetting != nil {
		stopForgetting()
	}
	if h.deps.ListWatcher != nil {
		if removed := h.deps.ListWatcher.CleanupConnection(connID); removed > 0 {
			log.Debug("removed meeting list subscriptions", "count", removed)
		}
	}
	log.Info("connection closed")
}

// rpcConnState tracks per-connection state.
type rpcConnState struct {
	mu     sync.Mutex
	connID string
	conn   *jsonrpc2.Conn
	log    *slog.Logger
}

func (s *rpcConnState) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *rpcConnState) getConn() *jsonrpc2.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *rpcConnState) notifySessionChanged(st session.State) {
	conn := s.getConn()
	if conn == nil {
		return
	}
	if err := conn.Notify(context.Background(), "session.changed", rpc.SessionChangedParams{Session: st}); err != nil {
		s.log.Debug("failed to send session.changed", "error", err)
	}
}

// rpcMethodHandler handles JSON-RPC method calls.
type rpcMethodHandler struct {
	*RPCHandler
	state         *rpcConnState
	controller    *session.Controller
	log           *slog.Logger
	authenticated bool
	authMu        sync.Mutex
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	// session
	case "session.get":
		h.handleSessionGet(ctx, conn, req)
	case "recording.start":
		h.handleRecordingStart(ctx, conn, req)
	case "recording.stop":
		h.handleRecordingStop(ctx, conn, req)
	case "session.select_file":
		h.handleSelectFile(ctx, conn, req)
	case "session.process":
		h.handleProcess(ctx, conn, req)
	case "session.commit":
		h.handleCommit(ctx, conn, req)
	case "session.view":
		h.handleView(ctx, conn, req)
	// meetings
	case "meeting.list":
		h.handleMeetingList(ctx, conn, req)
	case "meeting.get":
		h.handleMeetingGet(ctx, conn, req)
	case "meeting.delete":
		h.handleMeetingDelete(ctx, conn, req)
	case "meeting.clear":
		h.handleMeetingClear(ctx, conn, req)
	case "meeting.list.subscribe":
		h.handleMeetingListSubscribe(ctx, conn, req)
	case "meeting.list.unsubscribe":
		h.handleMeetingListUnsubscribe(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcMethodHandler) setAuthenticated() {
	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(h.token)) != 1 {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.setAuthenticated()
	h.log.Info("authenticated")

	result := rpc.AuthResult{Version: h.version, Session: h.controller.State()}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

// onMeetingChange keeps this connection's view consistent with deletions
// made elsewhere.
func (h *rpcMethodHandler) onMeetingChange(event meeting.ChangeEvent) {
	viewing := h.controller.State().ViewingMeetingID
	if viewing == "" {
		return
	}

	switch event.Op {
	case meeting.OperationDelete:
		h.controller.ForgetMeeting(event.Meeting.ID)
	case meeting.OperationClear:
		h.controller.ForgetMeeting(viewing)
	case meeting.OperationReload:
		if _, found, _ := h.deps.Store.Get(viewing); !found {
			h.controller.ForgetMeeting(viewing)
		}
	}
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, result any, what string) {
	if err := conn.Reply(ctx, id, result); err != nil {
		h.log.Error("failed to send "+what+" response", "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

// replyErr maps controller and store errors to JSON-RPC codes.
func (h *rpcMethodHandler) replyErr(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, err error) {
	code := int64(jsonrpc2.CodeInternalError)
	switch {
	case errors.Is(err, session.ErrNothingToSave),
		errors.Is(err, session.ErrNameRequired),
		errors.Is(err, session.ErrMeetingNotFound),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, meeting.ErrInvalidMeeting):
		code = jsonrpc2.CodeInvalidParams
	case errors.Is(err, session.ErrSessionChanged):
		code = jsonrpc2.CodeInvalidRequest
	}
	h.replyError(ctx, conn, id, code, err.Error())
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return errors.New("missing params")
	}
	return json.Unmarshal(*req.Params, v)
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
