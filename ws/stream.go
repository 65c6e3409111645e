package ws

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"
)

// maxMessageBytes bounds a single inbound JSON-RPC message.
const maxMessageBytes = 1 << 20

// webSocketStream carries one JSON-RPC object per websocket text frame.
type webSocketStream struct {
	ctx  context.Context
	conn *websocket.Conn

	writeMu sync.Mutex
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	conn.SetReadLimit(maxMessageBytes)
	return &webSocketStream{ctx: context.Background(), conn: conn}
}

func (s *webSocketStream) ReadObject(v any) error {
	typ, data, err := s.conn.Read(s.ctx)
	if err != nil {
		// A close frame from the peer ends the stream cleanly.
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	if typ != websocket.MessageText {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "binary frames are not supported"}
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
