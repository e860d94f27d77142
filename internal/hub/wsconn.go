package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// sendTimeout bounds one client send so a single slow client can't
// block a broadcast fan-out (5. Timeouts).
const sendTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSTransport adapts a gorilla/websocket connection to the Transport
// port.
type WSTransport struct {
	conn *websocket.Conn
}

// Upgrade upgrades an inbound HTTP request to a websocket connection
// and wraps it as a Transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WSTransport{conn: conn}, nil
}

func (t *WSTransport) SendText(payload []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) ReceiveText() ([]byte, error) {
	_, msg, err := t.conn.ReadMessage()
	return msg, err
}

func (t *WSTransport) Close(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return t.conn.Close()
}
