package mctp

import (
	"context"

	"github.com/behrlich/go-mctp/internal/wire"
)

// RequestChannel is the application-facing adapter for originating
// requests and awaiting their responses. Build one with Router.Req.
type RequestChannel struct {
	router     *Router
	eid        wire.Eid
	sentTag    *wire.Tag
	tagExpires bool
}

// Req builds a RequestChannel addressed to eid. The returned channel
// defaults to an expiring tag; call TagNoExpire before the first send to
// opt into a non-expiring flow.
func (r *Router) Req(eid wire.Eid) *RequestChannel {
	return &RequestChannel{router: r, eid: eid, tagExpires: true}
}

// TagNoExpire switches the channel to a non-expiring tag. It must be
// called before the first SendVectored.
func (c *RequestChannel) TagNoExpire() error {
	if c.sentTag != nil {
		return NewError("tag_noexpire", CodeBadArgument, "must be called before the first send")
	}
	c.tagExpires = false
	return nil
}

// SendVectored sends bufs as one message. The first call allocates a tag;
// later calls on the same channel reuse it, failing at the stack if the
// tag already expired.
func (c *RequestChannel) SendVectored(ctx context.Context, typ wire.MsgType, ic wire.MsgIC, bufs [][]byte) (wire.Tag, error) {
	tag, err := c.router.AppSendMessage(ctx, c.eid, typ, c.sentTag, c.tagExpires, ic, nil, bufs)
	if err != nil {
		return wire.Tag{}, err
	}
	c.sentTag = &tag
	return tag, nil
}

// Recv awaits the response to the request already sent on this channel.
// It requires a prior successful SendVectored.
func (c *RequestChannel) Recv(ctx context.Context, buf []byte) (n int, typ wire.MsgType, ic wire.MsgIC, err error) {
	if c.sentTag == nil {
		return 0, 0, false, NewError("recv", CodeBadArgument, "recv requires a prior send")
	}
	expect := wire.UnownedTag(c.sentTag.Value())
	n, _, typ, _, ic, err = c.router.RecvByFlow(ctx, c.eid, expect, buf)
	return n, typ, ic, err
}

// Release explicitly cancels a non-expiring tag's flow. Required before
// discarding a channel built with TagNoExpire, since Go has no drop hook
// that can suspend to do this implicitly.
func (c *RequestChannel) Release() {
	if c.sentTag != nil && !c.tagExpires {
		c.router.AppReleaseTag(c.eid, c.sentTag.Value())
		c.sentTag = nil
	}
}

// Close warns if a non-expiring tag was never released -- the tag would
// otherwise leak until the stack times it out.
func (c *RequestChannel) Close() {
	if c.sentTag != nil && !c.tagExpires {
		c.router.log.Warn("request channel discarded with an unreleased non-expiring tag", "eid", uint8(c.eid))
	}
}

// ResponseChannel is the application-facing adapter for replying to a
// request delivered by a Listener. Build one via Listener.Recv.
type ResponseChannel struct {
	router *Router
	eid    wire.Eid
	tv     wire.TagValue
	typ    wire.MsgType
}

// SendVectored replies to the captured request with bufs, reusing the
// peer's tag and message type.
func (c *ResponseChannel) SendVectored(ctx context.Context, ic wire.MsgIC, bufs [][]byte) error {
	tag := wire.UnownedTag(c.tv)
	_, err := c.router.AppSendMessage(ctx, c.eid, c.typ, &tag, false, ic, nil, bufs)
	return err
}

// ReqChannel mints a new RequestChannel addressed to the same peer this
// response channel is replying to.
func (c *ResponseChannel) ReqChannel() *RequestChannel {
	return c.router.Req(c.eid)
}

// Listener is the application-facing adapter for receiving requests of a
// bound message type. Build one with Router.Listener.
type Listener struct {
	router *Router
	cookie wire.AppCookie
	closed bool
}

// Listener binds typ and returns an adapter for receiving matching
// requests.
func (r *Router) Listener(typ wire.MsgType) (*Listener, error) {
	cookie, err := r.AppBind(typ)
	if err != nil {
		return nil, err
	}
	return &Listener{router: r, cookie: cookie}, nil
}

// Recv awaits the next request of this listener's bound type, returning
// its payload length and a ResponseChannel ready to reply.
func (l *Listener) Recv(ctx context.Context, buf []byte) (n int, resp *ResponseChannel, typ wire.MsgType, ic wire.MsgIC, err error) {
	var (
		src wire.Eid
		tag wire.Tag
	)
	n, src, typ, tag, ic, err = l.router.RecvByCookie(ctx, l.cookie, buf)
	if err != nil {
		return 0, nil, 0, false, err
	}
	if !tag.IsOwner() {
		return 0, nil, 0, false, NewError("listener_recv", CodeInternalError, "listener delivery carried a non-owned tag")
	}
	resp = &ResponseChannel{router: l.router, eid: src, tv: tag.Value(), typ: typ}
	return n, resp, typ, ic, nil
}

// Close unbinds the listener's message type. It never wakes anything.
// Calls after the first are no-ops that return nil.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.router.AppUnbind(l.cookie)
}
