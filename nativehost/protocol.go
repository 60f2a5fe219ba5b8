// Package nativehost speaks the browser native messaging protocol on
// stdin/stdout: each message is a 4-byte little-endian length followed by
// that many bytes of JSON.
package nativehost

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/wolfeidau/togglemark/message"
)

// MaxMessageSize is the browser's limit for host-to-extension messages.
const MaxMessageSize = 1 << 20

// ErrMessageTooLarge is returned for frames over MaxMessageSize.
var ErrMessageTooLarge = errors.New("native message too large")

// Request is an extension message with a correlation id.
type Request struct {
	ID      int             `json:"id"`
	Message message.Message `json:"message"`
}

// Response is the reply to a Request.
type Response struct {
	ID int `json:"id"`
	message.Response
}

// ReadMessage reads one framed message.
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, length, MaxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes one framed message.
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(msg), MaxMessageSize)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(msg))); err != nil { //nolint:gosec // bounded above
		return err
	}
	_, err := w.Write(msg)
	return err
}

// ParseRequest decodes a request. A bare message without the {id, message}
// envelope is accepted with id 0.
func ParseRequest(b []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	if _, wrapped := fields["message"]; wrapped {
		var req Request
		if err := json.Unmarshal(b, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	var msg message.Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	return &Request{Message: msg}, nil
}

// EncodeResponse marshals a response.
func EncodeResponse(id int, resp message.Response) ([]byte, error) {
	return json.Marshal(Response{ID: id, Response: resp})
}
