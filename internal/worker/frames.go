package worker

import (
	"bridge/internal/chat"
	"bridge/internal/request"
)

const (
	frameTypeNewRequest   = "new_request"
	frameTypeStatusUpdate = "status_update"
	frameTypeResponse     = "response"
	frameTypeError        = "error"
)

// NewRequestFrame is pushed server→worker. ChatID is the remote-side id
// (null until the worker reports one), ChatDBID the internal chat id the
// worker echoes back so responses can be linked.
type NewRequestFrame struct {
	Type         string  `json:"type"`
	RequestID    string  `json:"request_id"`
	Message      string  `json:"message"`
	ResponseType string  `json:"response_type"`
	ThinkingTime string  `json:"thinking_time"`
	ChatID       *string `json:"chat_id"`
	ChatDBID     *int64  `json:"chat_db_id"`
}

// inboundFrame is the superset of the three worker→server frame shapes.
type inboundFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Response  string `json:"response"`
	Error     string `json:"error"`
	ChatID    string `json:"chat_id"`
	ChatTitle string `json:"chat_title"`
}

func newRequestFrame(req request.MessageRequest, c *chat.Chat) NewRequestFrame {
	frame := NewRequestFrame{
		Type:         frameTypeNewRequest,
		RequestID:    req.ID,
		Message:      req.Message,
		ResponseType: req.ResponseType,
		ThinkingTime: req.ThinkingTime,
	}
	if c != nil {
		id := c.ID
		frame.ChatDBID = &id
		frame.ChatID = c.RemoteChatID
	}
	return frame
}
