package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/http/response"
	"github.com/millatvt/millat-backend/internal/observability"
	"github.com/millatvt/millat-backend/internal/security"
)

type TokenParser interface {
	ParseAccessToken(raw string) (*security.Claims, error)
}

type PrincipalChecker interface {
	IsActive(ctx context.Context, p domain.Principal) (bool, error)
}

type ConversationMembership interface {
	IsParticipant(ctx context.Context, p domain.Principal, conversationID uint) (bool, error)
}

// Publisher moves envelopes between gateway instances. A nil publisher
// delivers in process.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Listener is implemented by publishers that also receive envelopes
// published by other instances.
type Listener interface {
	Listen(ctx context.Context, deliver func(Envelope)) error
}

// Envelope addresses one frame to one room.
type Envelope struct {
	Room   string `json:"room"`
	Frame  Frame  `json:"frame"`
	Except string `json:"except,omitempty"`
}

type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	EventRate      float64
	EventBurst     int
}

const (
	CodeTokenMissing     = "TOKEN_MISSING"
	CodeTokenInvalid     = "TOKEN_INVALID"
	CodeTokenWrongType   = "TOKEN_WRONG_PURPOSE"
	CodePrincipalBlocked = "PRINCIPAL_INACTIVE"
	CodeInternal         = "INTERNAL_ERROR"
)

type HandshakeError struct {
	Status  int
	Code    string
	Message string
}

func (e *HandshakeError) Error() string { return e.Message }

var (
	errTokenMissing  = &HandshakeError{Status: http.StatusUnauthorized, Code: CodeTokenMissing, Message: "authentication token missing"}
	errTokenInvalid  = &HandshakeError{Status: http.StatusUnauthorized, Code: CodeTokenInvalid, Message: "invalid token"}
	errTokenPurpose  = &HandshakeError{Status: http.StatusUnauthorized, Code: CodeTokenWrongType, Message: "invalid token type"}
	errPrincipalGone = &HandshakeError{Status: http.StatusForbidden, Code: CodePrincipalBlocked, Message: "user not found or inactive"}
	errLookupFailed  = &HandshakeError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error"}
)

type Gateway struct {
	hub        *Hub
	tokens     TokenParser
	principals PrincipalChecker
	membership ConversationMembership
	publisher  Publisher
	upgrader   websocket.Upgrader
	opts       Options
	now        func() time.Time
}

func NewGateway(hub *Hub, tokens TokenParser, principals PrincipalChecker, membership ConversationMembership, publisher Publisher, opts Options) *Gateway {
	if hub == nil {
		hub = NewHub()
	}
	if opts.EventRate <= 0 {
		opts.EventRate = 10
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 20
	}
	g := &Gateway{
		hub:        hub,
		tokens:     tokens,
		principals: principals,
		membership: membership,
		publisher:  publisher,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range g.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Authenticate resolves the connecting principal from a websocket-purpose
// token. Admins never join the realtime channel.
func (g *Gateway) Authenticate(r *http.Request) (domain.Principal, *HandshakeError) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		}
	}
	if raw == "" {
		return domain.Principal{}, errTokenMissing
	}
	claims, err := g.tokens.ParseAccessToken(raw)
	if err != nil {
		return domain.Principal{}, errTokenInvalid
	}
	if claims.Purpose != security.PurposeWebsocket {
		return domain.Principal{}, errTokenPurpose
	}
	p, err := claims.Principal()
	if err != nil {
		return domain.Principal{}, errTokenInvalid
	}
	if p.Kind == domain.KindAdmin {
		return domain.Principal{}, errPrincipalGone
	}
	active, err := g.principals.IsActive(r.Context(), p)
	if err != nil {
		slog.ErrorContext(r.Context(), "realtime principal lookup failed", "principal", p.String(), "error", err.Error())
		return domain.Principal{}, errLookupFailed
	}
	if !active {
		return domain.Principal{}, errPrincipalGone
	}
	return p, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, herr := g.Authenticate(r)
	if herr != nil {
		observability.RecordRealtimeHandshake(ctx, strings.ToLower(herr.Code))
		response.Error(w, r, herr.Status, herr.Code, herr.Message, nil)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.RecordRealtimeHandshake(ctx, "upgrade_error")
		return
	}
	observability.RecordRealtimeHandshake(ctx, "success")

	c := newClient(conn, p, g.opts.SendBuffer, rate.Limit(g.opts.EventRate), g.opts.EventBurst)
	g.hub.Join(c, PersonalRoom(p))
	observability.RecordRealtimeConnection(ctx, string(p.Kind), 1)
	observability.AuditContext(ctx, "ws.connect", "principal", p.String(), "client_id", c.id)

	go c.writePump()
	c.readPump(ctx, g.handleFrame)

	g.hub.Remove(c)
	observability.RecordRealtimeConnection(ctx, string(p.Kind), -1)
	slog.DebugContext(ctx, "realtime client disconnected", "principal", p.String(), "client_id", c.id)
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, raw []byte) {
	var in Frame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		observability.RecordRealtimeEvent(ctx, "malformed", "rejected")
		c.emitError("", "malformed frame")
		return
	}
	switch in.Event {
	case EventJoinConversation:
		g.handleJoin(ctx, c, in)
	case EventLeaveConversation:
		ref, ok := decodeRef(c, in)
		if !ok {
			return
		}
		g.hub.Leave(c, ConversationRoom(ref.ConversationID))
		observability.RecordRealtimeEvent(ctx, in.Event, "ok")
	case EventTypingStart, EventTypingStop:
		g.handleTyping(ctx, c, in)
	case EventMessageRead:
		g.handleMessageRead(ctx, c, in)
	default:
		observability.RecordRealtimeEvent(ctx, "unknown", "rejected")
		c.emitError(in.Event, "unknown event")
	}
}

func decodeRef(c *Client, in Frame) (conversationRef, bool) {
	var ref conversationRef
	if len(in.Data) == 0 || json.Unmarshal(in.Data, &ref) != nil || ref.ConversationID == 0 {
		c.emitError(in.Event, "conversationId is required")
		return ref, false
	}
	return ref, true
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, in Frame) {
	ref, ok := decodeRef(c, in)
	if !ok {
		observability.RecordRealtimeEvent(ctx, in.Event, "invalid")
		return
	}
	member, err := g.membership.IsParticipant(ctx, c.principal, ref.ConversationID)
	if err != nil {
		slog.ErrorContext(ctx, "realtime membership check failed", "principal", c.principal.String(), "conversation_id", ref.ConversationID, "error", err.Error())
		observability.RecordRealtimeEvent(ctx, in.Event, "error")
		c.emitError(in.Event, "failed to join conversation")
		return
	}
	if !member {
		observability.RecordRealtimeEvent(ctx, in.Event, "denied")
		c.emitError(in.Event, "not a participant of this conversation")
		return
	}
	g.hub.Join(c, ConversationRoom(ref.ConversationID))
	observability.RecordRealtimeEvent(ctx, in.Event, "ok")
	c.emit(EventConversationJoined, ref)
}

func (g *Gateway) handleTyping(ctx context.Context, c *Client, in Frame) {
	ref, ok := decodeRef(c, in)
	if !ok {
		observability.RecordRealtimeEvent(ctx, in.Event, "invalid")
		return
	}
	room := ConversationRoom(ref.ConversationID)
	if !g.hub.InRoom(c, room) {
		observability.RecordRealtimeEvent(ctx, in.Event, "denied")
		c.emitError(in.Event, "join the conversation first")
		return
	}
	g.emitToRoom(ctx, room, c.id, EventUserTyping, UserTypingPayload{
		ConversationID: ref.ConversationID,
		UserID:         c.principal.ID,
		UserType:       c.principal.Kind,
		IsTyping:       in.Event == EventTypingStart,
	})
	observability.RecordRealtimeEvent(ctx, in.Event, "ok")
}

func (g *Gateway) handleMessageRead(ctx context.Context, c *Client, in Frame) {
	var req messageReadRequest
	if len(in.Data) == 0 || json.Unmarshal(in.Data, &req) != nil || req.ConversationID == 0 || len(req.MessageIDs) == 0 {
		observability.RecordRealtimeEvent(ctx, in.Event, "invalid")
		c.emitError(in.Event, "conversationId and messageIds are required")
		return
	}
	room := ConversationRoom(req.ConversationID)
	if !g.hub.InRoom(c, room) {
		observability.RecordRealtimeEvent(ctx, in.Event, "denied")
		c.emitError(in.Event, "join the conversation first")
		return
	}
	g.emitToRoom(ctx, room, c.id, EventMessagesRead, MessagesReadPayload{
		ConversationID: req.ConversationID,
		MessageIDs:     req.MessageIDs,
		ReadBy:         c.principal.ID,
		ReadByType:     c.principal.Kind,
		ReadAt:         g.now().Format(time.RFC3339Nano),
	})
	observability.RecordRealtimeEvent(ctx, in.Event, "ok")
}

// BroadcastMessage emits new_message to the conversation room.
func (g *Gateway) BroadcastMessage(ctx context.Context, conversationID uint, message any) {
	g.emitToRoom(ctx, ConversationRoom(conversationID), "", EventNewMessage, message)
}

// NotifyNewConversation emits new_conversation to the recipient's personal room.
func (g *Gateway) NotifyNewConversation(ctx context.Context, recipient domain.Principal, conversation any) {
	g.emitToRoom(ctx, PersonalRoom(recipient), "", EventNewConversation, conversation)
}

func (g *Gateway) BroadcastMessagesRead(ctx context.Context, conversationID uint, reader domain.Principal, messageIDs []uint, readAt time.Time) {
	g.emitToRoom(ctx, ConversationRoom(conversationID), "", EventMessagesRead, MessagesReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
		ReadBy:         reader.ID,
		ReadByType:     reader.Kind,
		ReadAt:         readAt.UTC().Format(time.RFC3339Nano),
	})
}

func (g *Gateway) emitToRoom(ctx context.Context, room, except, event string, data any) {
	frame, err := newFrame(event, data)
	if err != nil {
		slog.ErrorContext(ctx, "realtime frame encode failed", "event", event, "error", err.Error())
		return
	}
	env := Envelope{Room: room, Frame: frame, Except: except}
	if g.publisher != nil {
		err := g.publisher.Publish(ctx, env)
		if err == nil {
			observability.RecordRealtimeBroadcast(ctx, event, "redis_publish", 0)
			return
		}
		slog.WarnContext(ctx, "realtime publish failed, delivering locally", "event", event, "room", room, "error", err.Error())
	}
	n := g.Deliver(env)
	observability.RecordRealtimeBroadcast(ctx, event, "local", n)
}

// Deliver writes env to the members of its room on this instance.
func (g *Gateway) Deliver(env Envelope) int {
	payload, err := json.Marshal(env.Frame)
	if err != nil {
		return 0
	}
	return g.hub.Emit(env.Room, payload, env.Except)
}

// Run consumes envelopes from other instances until ctx is done, then
// disconnects every local client.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.hub.CloseAll()
	if l, ok := g.publisher.(Listener); ok {
		return l.Listen(ctx, func(env Envelope) {
			n := g.Deliver(env)
			observability.RecordRealtimeBroadcast(ctx, env.Frame.Event, "redis", n)
		})
	}
	<-ctx.Done()
	return nil
}
