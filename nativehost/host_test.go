package nativehost

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/togglemark/message"
)

type echoDispatcher struct {
	got []message.Message
}

func (d *echoDispatcher) Handle(_ context.Context, msg message.Message) message.Response {
	d.got = append(d.got, msg)
	if msg.Action == "fail" {
		return message.Response{Success: false, Message: "nope"}
	}
	return message.Response{Success: true, Message: "ok:" + msg.Action}
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, b))
	return buf.Bytes()
}

func readResponses(t *testing.T, r io.Reader) []Response {
	t.Helper()
	var out []Response
	for {
		b, err := ReadMessage(r)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.Unmarshal(b, &resp))
		out = append(out, resp)
	}
}

func TestHostRoundTrip(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, map[string]any{"id": 1, "message": map[string]any{"action": "setReminder", "url": "https://go.dev", "minutes": 5}}))
	in.Write(frame(t, map[string]any{"id": 2, "message": map[string]any{"action": "fail"}}))

	var out bytes.Buffer
	d := &echoDispatcher{}
	h := NewHost(d, WithIO(&in, &out))
	require.NoError(t, h.Run(context.Background()))

	require.Len(t, d.got, 2)
	require.Equal(t, 5, d.got[0].Minutes)

	resps := readResponses(t, &out)
	require.Len(t, resps, 2)
	require.Equal(t, 1, resps[0].ID)
	require.True(t, resps[0].Success)
	require.Equal(t, "ok:setReminder", resps[0].Message)
	require.Equal(t, 2, resps[1].ID)
	require.False(t, resps[1].Success)
}

func TestHostAcceptsBareMessage(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, map[string]any{"action": "status", "url": "https://go.dev"}))

	var out bytes.Buffer
	d := &echoDispatcher{}
	require.NoError(t, NewHost(d, WithIO(&in, &out)).Run(context.Background()))

	require.Equal(t, "https://go.dev", d.got[0].URL)
	resps := readResponses(t, &out)
	require.Equal(t, 0, resps[0].ID)
	require.True(t, resps[0].Success)
}

func TestHostRepliesToInvalidJSON(t *testing.T) {
	var in bytes.Buffer
	require.NoError(t, WriteMessage(&in, []byte("{not json")))

	var out bytes.Buffer
	require.NoError(t, NewHost(&echoDispatcher{}, WithIO(&in, &out)).Run(context.Background()))

	resps := readResponses(t, &out)
	require.Len(t, resps, 1)
	require.False(t, resps[0].Success)
	require.Contains(t, resps[0].Message, "invalid request")
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(MaxMessageSize+1)))

	_, err := ReadMessage(&buf)
	require.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestWriteMessageUsesLittleEndianLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte(`{}`)))
	require.Equal(t, []byte{2, 0, 0, 0, '{', '}'}, buf.Bytes())
}

func TestGenerateManifest(t *testing.T) {
	b, err := GenerateManifest(BrowserFirefox, "/usr/local/bin/togglemark", "togglemark@example.org")
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, HostName, m["name"])
	require.Equal(t, "stdio", m["type"])
	require.Equal(t, []any{"togglemark@example.org"}, m["allowed_extensions"])

	b, err = GenerateManifest(BrowserChrome, "/usr/local/bin/togglemark", "abcdef")
	require.NoError(t, err)
	require.Contains(t, string(b), "chrome-extension://abcdef/")

	_, err = GenerateManifest("netscape", "/x", "y")
	require.Error(t, err)
}
