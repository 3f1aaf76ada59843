// Package aria2 binds the aria2 JSON-RPC method set on top of an rpc.Transport.
package aria2

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
	"github.com/veranemoloko/tui-downloader/internal/rpc"
)

const (
	MethodGetVersion           = "aria2.getVersion"
	MethodAddURI               = "aria2.addUri"
	MethodAddTorrent           = "aria2.addTorrent"
	MethodAddMetalink          = "aria2.addMetalink"
	MethodPause                = "aria2.pause"
	MethodUnpause              = "aria2.unpause"
	MethodPauseAll             = "aria2.pauseAll"
	MethodUnpauseAll           = "aria2.unpauseAll"
	MethodForceRemove          = "aria2.forceRemove"
	MethodRemoveDownloadResult = "aria2.removeDownloadResult"
	MethodTellActive           = "aria2.tellActive"
	MethodTellWaiting          = "aria2.tellWaiting"
	MethodTellStopped          = "aria2.tellStopped"
	MethodGetGlobalOption      = "aria2.getGlobalOption"
	MethodChangeGlobalOption   = "aria2.changeGlobalOption"
	MethodChangePosition       = "aria2.changePosition"
	MethodShutdown             = "aria2.shutdown"
)

const (
	OptionMaxDownloadLimit = "max-overall-download-limit"
	OptionMaxUploadLimit   = "max-overall-upload-limit"
)

// Client is a typed aria2 client. The secret token is prepended to the
// parameters of every aria2.* call.
type Client struct {
	transport rpc.Transport
	secret    string
}

func NewClient(transport rpc.Transport, secret string) *Client {
	return &Client{transport: transport, secret: secret}
}

// Transport exposes the underlying transport, e.g. for notifications.
func (c *Client) Transport() rpc.Transport {
	return c.transport
}

func (c *Client) params(method string, params ...any) []any {
	if c.secret == "" || !strings.HasPrefix(method, "aria2.") {
		return params
	}
	return append([]any{"token:" + c.secret}, params...)
}

func (c *Client) call(ctx context.Context, method string, out any, params ...any) error {
	raw, err := c.transport.Call(ctx, method, c.params(method, params...)...)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func decode(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errpkg.Protocol("decode %T: %v", out, err)
	}
	return nil
}

func (c *Client) GetVersion(ctx context.Context) (Version, error) {
	var v Version
	err := c.call(ctx, MethodGetVersion, &v)
	return v, err
}

func (c *Client) AddURI(ctx context.Context, uris []string) (string, error) {
	var gid string
	err := c.call(ctx, MethodAddURI, &gid, uris)
	return gid, err
}

func (c *Client) AddTorrent(ctx context.Context, torrent []byte) (string, error) {
	var gid string
	err := c.call(ctx, MethodAddTorrent, &gid, base64.StdEncoding.EncodeToString(torrent))
	return gid, err
}

func (c *Client) AddMetalink(ctx context.Context, metalink []byte) ([]string, error) {
	var gids []string
	err := c.call(ctx, MethodAddMetalink, &gids, base64.StdEncoding.EncodeToString(metalink))
	return gids, err
}

func (c *Client) Pause(ctx context.Context, gid string) error {
	return c.call(ctx, MethodPause, nil, gid)
}

func (c *Client) Unpause(ctx context.Context, gid string) error {
	return c.call(ctx, MethodUnpause, nil, gid)
}

func (c *Client) PauseAll(ctx context.Context) error {
	return c.call(ctx, MethodPauseAll, nil)
}

func (c *Client) UnpauseAll(ctx context.Context) error {
	return c.call(ctx, MethodUnpauseAll, nil)
}

func (c *Client) ForceRemove(ctx context.Context, gid string) error {
	return c.call(ctx, MethodForceRemove, nil, gid)
}

func (c *Client) RemoveDownloadResult(ctx context.Context, gid string) error {
	return c.call(ctx, MethodRemoveDownloadResult, nil, gid)
}

// RemoveDownloadResults drops several stopped records in one round trip.
// The returned slice holds one error (or nil) per gid.
func (c *Client) RemoveDownloadResults(ctx context.Context, gids []string) []error {
	reqs := make([]rpc.Request, len(gids))
	for i, gid := range gids {
		reqs[i] = rpc.Request{
			Method: MethodRemoveDownloadResult,
			Params: c.params(MethodRemoveDownloadResult, gid),
		}
	}
	results := rpc.Batch(ctx, c.transport, reqs)
	errs := make([]error, len(results))
	for i, r := range results {
		errs[i] = r.Err
	}
	return errs
}

// ListAll fetches the active, waiting and stopped lists in one batch, then
// keeps paging the waiting and stopped lists while pages come back full.
// Any failing call fails the whole listing.
func (c *Client) ListAll(ctx context.Context, pageSize int) (Listing, error) {
	reqs := []rpc.Request{
		{Method: MethodTellActive, Params: c.params(MethodTellActive, StatusKeys)},
		{Method: MethodTellWaiting, Params: c.params(MethodTellWaiting, 0, pageSize, StatusKeys)},
		{Method: MethodTellStopped, Params: c.params(MethodTellStopped, 0, pageSize, StatusKeys)},
	}

	results := rpc.Batch(ctx, c.transport, reqs)
	if err := rpc.FirstError(results); err != nil {
		return Listing{}, err
	}

	var l Listing
	targets := []*[]Status{&l.Active, &l.Waiting, &l.Stopped}
	for i, r := range results {
		if err := decode(r.Value, targets[i]); err != nil {
			return Listing{}, err
		}
	}

	if err := c.nextPages(ctx, MethodTellWaiting, &l.Waiting, pageSize); err != nil {
		return Listing{}, err
	}
	if err := c.nextPages(ctx, MethodTellStopped, &l.Stopped, pageSize); err != nil {
		return Listing{}, err
	}
	return l, nil
}

// nextPages appends pages starting at the current length of list until a
// short page arrives. Entries shifting between pages may show up twice;
// callers key by gid.
func (c *Client) nextPages(ctx context.Context, method string, list *[]Status, pageSize int) error {
	if pageSize <= 0 {
		return nil
	}
	for len(*list) > 0 && len(*list)%pageSize == 0 {
		var page []Status
		if err := c.call(ctx, method, &page, len(*list), pageSize, StatusKeys); err != nil {
			return err
		}
		*list = append(*list, page...)
		if len(page) < pageSize {
			return nil
		}
	}
	return nil
}

func (c *Client) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	var opts map[string]string
	err := c.call(ctx, MethodGetGlobalOption, &opts)
	return opts, err
}

func (c *Client) ChangeGlobalOption(ctx context.Context, opts map[string]string) error {
	return c.call(ctx, MethodChangeGlobalOption, nil, opts)
}

// ChangePosition moves a waiting download relative to its current slot.
func (c *Client) ChangePosition(ctx context.Context, gid string, delta int) (int, error) {
	var pos int
	err := c.call(ctx, MethodChangePosition, &pos, gid, delta, "POS_CUR")
	return pos, err
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.call(ctx, MethodShutdown, nil)
}
