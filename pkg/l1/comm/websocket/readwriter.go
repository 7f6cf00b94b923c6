package websocket

import "golang.org/x/net/websocket"

// ReadWriter sends and receives whole messages on a websocket.
type ReadWriter websocket.Conn

// New wraps websocket.Conn.
func New(conn *websocket.Conn) *ReadWriter {
	return (*ReadWriter)(conn)
}

// ReadPacket receives a message.
func (p *ReadWriter) ReadPacket() (pkt []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &pkt)
	return
}

// WritePacket sends a binary message.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), pkt)
}

// WriteText sends a text message.
func (p *ReadWriter) WriteText(text []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), string(text))
}
