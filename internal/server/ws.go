package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"psycho/internal/async"
	"psycho/internal/llm"
)

// Caps for file content carried over the chat socket. The prompt copy is
// what the model sees; the ingest copy feeds the knowledge graph.
const (
	wsFilePromptLimit = 12000
	wsFileIngestLimit = 20000
)

type wsRequest struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	FileContent string `json:"file_content"`
	Filename    string `json:"filename"`
	Image       string `json:"image"`
	MediaType   string `json:"media_type"`
}

type wsFrame struct {
	Type        string   `json:"type"`
	Token       string   `json:"token,omitempty"`
	Message     string   `json:"message,omitempty"`
	Response    string   `json:"response,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	SearchQuery string   `json:"search_query,omitempty"`
}

// handleChatSocket runs one streaming chat session. Frames in are JSON
// requests; frames out are token / done / error / pong.
func (s *Server) handleChatSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed: %v", err)
			}
			return
		}

		switch req.Type {
		case "ping":
			s.writeFrame(conn, wsFrame{Type: "pong"})
		case "file_chat":
			s.streamFileChat(ctx, conn, req)
		case "image_chat":
			s.streamImageChat(ctx, conn, req)
		default:
			message := strings.TrimSpace(req.Message)
			if message == "" {
				s.writeFrame(conn, wsFrame{Type: "error", Message: "empty message"})
				continue
			}
			s.streamChat(ctx, conn, message)
		}
	}
}

func (s *Server) streamChat(ctx context.Context, conn *websocket.Conn, message string) {
	turn := s.agent.StreamChat(ctx, message, s.tokenWriter(conn))
	s.writeDone(conn, turn.AgentResponse)
}

func (s *Server) streamFileChat(ctx context.Context, conn *websocket.Conn, req wsRequest) {
	filename := req.Filename
	if filename == "" {
		filename = "unknown"
	}
	prompt := strings.TrimSpace(req.Message)
	if prompt == "" {
		prompt = "Please analyse and summarise this file."
	}

	preview := req.FileContent
	if len(preview) > wsFilePromptLimit {
		preview = preview[:wsFilePromptLimit] + "\n\n[file truncated for context]"
	}
	enriched := fmt.Sprintf("The user has shared a file named %q.\n\nFile contents:\n```\n%s\n```\n\nUser: %s",
		filename, preview, prompt)

	// Graph ingestion happens off the request path; the stream starts
	// immediately.
	ingest := req.FileContent
	if len(ingest) > wsFileIngestLimit {
		ingest = ingest[:wsFileIngestLimit]
	}
	a := s.agent
	async.Go(s.logger, "ws-file-ingest", func() {
		a.IngestText(context.Background(), ingest, filename, "")
	})

	turn := s.agent.StreamChat(ctx, enriched, s.tokenWriter(conn))
	s.writeDone(conn, turn.AgentResponse)
}

func (s *Server) streamImageChat(ctx context.Context, conn *websocket.Conn, req wsRequest) {
	if req.Image == "" {
		s.writeFrame(conn, wsFrame{Type: "error", Message: "no image data"})
		return
	}
	imageBytes, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		s.writeFrame(conn, wsFrame{Type: "error", Message: "invalid base64 image"})
		return
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	turn := s.agent.ChatWithImage(ctx, req.Message, imageBytes, mediaType, s.tokenWriter(conn))
	s.writeDone(conn, turn.AgentResponse)
}

func (s *Server) tokenWriter(conn *websocket.Conn) llm.TokenHandler {
	return func(token string) error {
		return s.writeFrame(conn, wsFrame{Type: "token", Token: token})
	}
}

func (s *Server) writeDone(conn *websocket.Conn, response string) {
	loop := s.agent.Loop()
	actions := []string{}
	if result := loop.LastDomainResult(); result != nil {
		actions = result.ActionsTaken
	}
	s.writeFrame(conn, wsFrame{
		Type:        "done",
		Response:    response,
		Domain:      loop.LastDomain(),
		Actions:     actions,
		SessionID:   s.agent.SessionID(),
		SearchQuery: loop.LastSearchQuery(),
	})
}

func (s *Server) writeFrame(conn *websocket.Conn, frame wsFrame) error {
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Debug("websocket write failed: %v", err)
		return err
	}
	return nil
}
