package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gridclaim/internal/auth"
	"gridclaim/internal/config"
	"gridclaim/internal/notify"
	"gridclaim/internal/presence"
	"gridclaim/internal/session"
)

type Server struct {
	hub      *Hub
	sessions *session.Coordinator
	notifier *notify.Notifier
	presence *presence.Tracker
	verifier *auth.Verifier
	upgrader websocket.Upgrader

	heartbeat         time.Duration
	defaultBoardSize  int
	defaultMaxPlayers int
}

func NewServer(hub *Hub, sessions *session.Coordinator, notifier *notify.Notifier, tracker *presence.Tracker, verifier *auth.Verifier, cfg config.ServerConfig) *Server {
	return &Server{
		hub:               hub,
		sessions:          sessions,
		notifier:          notifier,
		presence:          tracker,
		verifier:          verifier,
		upgrader:          websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		heartbeat:         cfg.HeartbeatInterval,
		defaultBoardSize:  cfg.DefaultBoardSize,
		defaultMaxPlayers: cfg.DefaultMaxPlayers,
	}
}

// HandleWS upgrades the request and runs the connection. A token in the
// upgrade request's cookies authenticates immediately; otherwise the
// first frame must be an auth command carrying a bearer token.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := newClient(conn)

	go s.writeLoop(client)

	if token := auth.TokenFromRequest(r); token != "" {
		if !s.authenticate(client, token) {
			s.hub.Unregister(client)
			return
		}
	}
	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	defer s.hub.Unregister(c)

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		if c.userID == "" {
			if base.Type != "auth" {
				s.sendError(c, base.Type, "unauthenticated")
				continue
			}
			var cmd AuthCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			if !s.authenticate(c, cmd.Token) {
				return
			}
			continue
		}
		s.dispatch(c, base.Type, msg)
	}
}

// writeLoop owns the connection teardown. Frames still queued when the
// send channel closes are written before the close.
func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.Close()
}

// authenticate resolves the credential, joins the private user group
// (once per connection), flushes the notification backlog and starts
// the presence heartbeat.
func (s *Server) authenticate(c *Client, token string) bool {
	ctx := context.Background()
	userID, err := s.verifier.Verify(token)
	if err != nil {
		s.sendError(c, "auth", "invalid_credential")
		return false
	}
	s.hub.JoinUser(c, userID)
	if err := s.presence.Touch(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("presence touch failed")
	}
	s.sendEvent(c, "authenticated", Authenticated{UserID: userID})
	if err := s.notifier.Subscribe(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("notification flush failed")
	}
	go s.heartbeatLoop(c, userID)
	log.Info().Str("user_id", userID).Msg("connection authenticated")
	return true
}

func (s *Server) heartbeatLoop(c *Client, userID string) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := s.presence.Touch(context.Background(), userID); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("presence touch failed")
			}
		}
	}
}

func (s *Server) dispatch(c *Client, cmdType string, msg []byte) {
	ctx := context.Background()
	switch cmdType {
	case "subscribe":
		var cmd SubscribeCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		snap, err := s.sessions.Snapshot(ctx, cmd.SessionID)
		if err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
			return
		}
		s.hub.JoinRoom(c, cmd.SessionID)
		s.sendEvent(c, "sessionState", snap)
	case "unsubscribe":
		var cmd SubscribeCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		s.hub.LeaveRoom(c, cmd.SessionID)
	case "createSession":
		var cmd CreateSessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if cmd.BoardSize == 0 {
			cmd.BoardSize = s.defaultBoardSize
		}
		if cmd.MaxPlayers == 0 {
			cmd.MaxPlayers = s.defaultMaxPlayers
		}
		snap, err := s.sessions.Create(ctx, c.userID, cmd.BoardSize, cmd.MaxPlayers)
		if err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
			return
		}
		s.hub.JoinRoom(c, snap.ID)
		s.sendEvent(c, "sessionState", snap)
	case "joinSession":
		var cmd SessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		snap, err := s.sessions.Join(ctx, cmd.SessionID, c.userID)
		if err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
			return
		}
		s.hub.JoinRoom(c, cmd.SessionID)
		s.sendEvent(c, "sessionState", snap)
	case "leaveSession":
		var cmd SessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.sessions.Leave(ctx, cmd.SessionID, c.userID); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
			return
		}
		s.hub.LeaveRoom(c, cmd.SessionID)
	case "startSession":
		var cmd SessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.sessions.Start(ctx, cmd.SessionID, c.userID); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	case "claimCell":
		var cmd ClaimCellCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if _, err := s.sessions.Claim(ctx, cmd.SessionID, c.userID, cmd.X, cmd.Y); err != nil {
			s.sendEvent(c, "cellRejected", CellRejected{
				SessionID: cmd.SessionID,
				X:         cmd.X,
				Y:         cmd.Y,
				Reason:    session.RejectReason(err),
			})
		}
	case "setReady":
		var cmd SetReadyCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.sessions.SetReady(ctx, cmd.SessionID, c.userID, cmd.Ready); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	case "forfeit":
		var cmd SessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.sessions.Forfeit(ctx, cmd.SessionID, c.userID); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	case "sendChat":
		var cmd SendChatCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.sessions.Chat(ctx, cmd.SessionID, c.userID, cmd.Text); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	case "reconnect":
		var cmd SessionCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		snap, err := s.sessions.Reconnect(ctx, cmd.SessionID, c.userID)
		if err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
			return
		}
		s.hub.JoinRoom(c, cmd.SessionID)
		s.sendEvent(c, "sessionState", snap)
	case "markRead":
		var cmd MarkReadCommand
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}
		if err := s.notifier.MarkRead(ctx, c.userID, cmd.NotificationID); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	case "markAllRead":
		if err := s.notifier.MarkAllRead(ctx, c.userID); err != nil {
			s.sendError(c, cmdType, session.RejectReason(err))
		}
	}
}

func (s *Server) sendEvent(c *Client, event string, data any) {
	safeSend(c.send, marshalEnvelope(event, data))
}

func (s *Server) sendError(c *Client, op, reason string) {
	s.sendEvent(c, "error", CommandError{Op: op, Reason: reason})
}
