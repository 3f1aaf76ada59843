package aria2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

type recordedCall struct {
	method string
	params []any
}

type fakeTransport struct {
	calls   []recordedCall
	replies map[string]string
	errs    map[string]error
	// handle, when set, answers before replies.
	handle func(method string, params []any) (string, bool)
}

func (f *fakeTransport) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	f.calls = append(f.calls, recordedCall{method: method, params: params})
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	if f.handle != nil {
		if reply, ok := f.handle(method, params); ok {
			return json.RawMessage(reply), nil
		}
	}
	if reply, ok := f.replies[method]; ok {
		return json.RawMessage(reply), nil
	}
	return json.RawMessage(`"OK"`), nil
}

func TestClient_PrependsToken(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{MethodAddURI: `"2089b05ecca3d829"`}}
	c := NewClient(tr, "s3cret")

	gid, err := c.AddURI(context.Background(), []string{"https://example.com/file.zip"})
	require.NoError(t, err)
	assert.Equal(t, "2089b05ecca3d829", gid)

	require.Len(t, tr.calls, 1)
	assert.Equal(t, MethodAddURI, tr.calls[0].method)
	assert.Equal(t, []any{"token:s3cret", []string{"https://example.com/file.zip"}}, tr.calls[0].params)
}

func TestClient_NoTokenWithoutSecret(t *testing.T) {
	tr := &fakeTransport{}
	c := NewClient(tr, "")

	require.NoError(t, c.Pause(context.Background(), "abc"))
	assert.Equal(t, []any{"abc"}, tr.calls[0].params)
}

func TestClient_AddTorrentEncodesBase64(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{MethodAddTorrent: `"d1"`}}
	c := NewClient(tr, "x")

	_, err := c.AddTorrent(context.Background(), []byte("d8:announce0:e"))
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("d8:announce0:e")), tr.calls[0].params[1])
}

func TestClient_ListAll(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{
		MethodTellActive:  `[{"gid":"a1","status":"active","totalLength":"1000000","completedLength":"0","downloadSpeed":"512"}]`,
		MethodTellWaiting: `[{"gid":"w1","status":"paused","totalLength":"10"}]`,
		MethodTellStopped: `[{"gid":"s1","status":"error","errorCode":"3","errorMessage":"Resource not found"}]`,
	}}
	c := NewClient(tr, "x")

	l, err := c.ListAll(context.Background(), 100)
	require.NoError(t, err)

	records := l.Records()
	require.Len(t, records, 3)
	assert.Equal(t, ListActive, records[0].List)
	assert.Equal(t, "a1", records[0].GID)
	assert.Equal(t, int64(1000000), Int(records[0].TotalLength))
	assert.Equal(t, ListWaiting, records[1].List)
	assert.Equal(t, StatusPaused, records[1].Status.Status)
	assert.Equal(t, ListStopped, records[2].List)
	assert.True(t, records[2].HasError())

	assert.Equal(t, []any{"token:x", 0, 100, StatusKeys}, tr.calls[1].params)
}

func pagedList(prefix string, total, offset, num int) string {
	var items []string
	for i := offset; i < total && i < offset+num; i++ {
		items = append(items, fmt.Sprintf(`{"gid":"%s%d","status":"waiting"}`, prefix, i))
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestClient_ListAllPagesUntilShortPage(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{MethodTellActive: `[]`}}
	tr.handle = func(method string, params []any) (string, bool) {
		offset, num := params[1].(int), params[2].(int)
		switch method {
		case MethodTellWaiting:
			return pagedList("w", 5, offset, num), true
		case MethodTellStopped:
			return pagedList("s", 2, offset, num), true
		}
		return "", false
	}
	c := NewClient(tr, "x")

	l, err := c.ListAll(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, l.Waiting, 5)
	assert.Equal(t, "w4", l.Waiting[4].GID)
	require.Len(t, l.Stopped, 2)

	offsets := map[string][]int{}
	for _, call := range tr.calls {
		if call.method == MethodTellWaiting || call.method == MethodTellStopped {
			offsets[call.method] = append(offsets[call.method], call.params[1].(int))
		}
	}
	assert.Equal(t, []int{0, 2, 4}, offsets[MethodTellWaiting])
	assert.Equal(t, []int{0, 2}, offsets[MethodTellStopped], "a full last page needs one empty follow-up")
}

func TestClient_ListAllPagingFailure(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{MethodTellActive: `[]`, MethodTellStopped: `[]`}}
	tr.handle = func(method string, params []any) (string, bool) {
		if method != MethodTellWaiting {
			return "", false
		}
		if params[1].(int) == 0 {
			return pagedList("w", 1, 0, 1), true
		}
		return `{"broken":true}`, true
	}
	c := NewClient(tr, "x")

	_, err := c.ListAll(context.Background(), 1)
	assert.ErrorIs(t, err, errpkg.ErrProtocol)
}

func TestClient_ListAllFailsAsAWhole(t *testing.T) {
	tr := &fakeTransport{
		replies: map[string]string{MethodTellActive: `[]`},
		errs:    map[string]error{MethodTellWaiting: &errpkg.RemoteError{Code: 1, Message: "Unauthorized"}},
	}
	c := NewClient(tr, "x")

	_, err := c.ListAll(context.Background(), 10)
	assert.True(t, errpkg.IsRemote(err))
}

func TestClient_ListAllMalformed(t *testing.T) {
	tr := &fakeTransport{replies: map[string]string{MethodTellActive: `{"not":"a list"}`}}
	c := NewClient(tr, "x")

	_, err := c.ListAll(context.Background(), 10)
	assert.ErrorIs(t, err, errpkg.ErrProtocol)
}

func TestClient_RemoveDownloadResults(t *testing.T) {
	boom := &errpkg.RemoteError{Code: 1, Message: "Could not remove"}
	tr := &fakeTransport{}
	c := NewClient(tr, "x")

	errs := c.RemoveDownloadResults(context.Background(), []string{"a", "b"})
	assert.Equal(t, []error{nil, nil}, errs)

	tr.errs = map[string]error{MethodRemoveDownloadResult: boom}
	errs = c.RemoveDownloadResults(context.Background(), []string{"c"})
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], boom))
}

func TestStatus_Derivations(t *testing.T) {
	s := Status{
		Files: []File{{
			Path: "/downloads/ubuntu.iso",
			URIs: []URI{{URI: "https://example.com/ubuntu.iso", Status: "used"}},
		}},
	}
	assert.Equal(t, "ubuntu.iso", s.Name())
	assert.Equal(t, "https://example.com/ubuntu.iso", s.Source())
	assert.Equal(t, []string{"/downloads/ubuntu.iso"}, s.Paths())

	s.BitTorrent = &BitTorrent{Info: &struct {
		Name string `json:"name"`
	}{Name: "debian"}}
	assert.Equal(t, "debian", s.Name())
}

func TestInt(t *testing.T) {
	assert.Equal(t, int64(42), Int("42"))
	assert.Zero(t, Int(""))
	assert.Zero(t, Int("n/a"))
	assert.Zero(t, Int("-5"))
}
