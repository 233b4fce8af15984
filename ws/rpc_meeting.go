package ws

import (
	"context"

	"github.com/joules/server/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleMeetingList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	meetings, err := h.deps.Store.List()
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to list meetings")
		return
	}
	h.reply(ctx, conn, req.ID, rpc.MeetingListResult{Meetings: meetings}, "meeting list")
}

func (h *rpcMethodHandler) handleMeetingGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.MeetingParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	m, found, err := h.deps.Store.Get(params.MeetingID)
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to get meeting")
		return
	}
	if !found {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "meeting not found")
		return
	}
	h.reply(ctx, conn, req.ID, m, "meeting get")
}

// handleMeetingDelete expects the client to have confirmed with the user.
func (h *rpcMethodHandler) handleMeetingDelete(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.MeetingParams
	if err := unmarshalParams(req, &params); err != nil || params.MeetingID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	st, err := h.controller.DeleteMeeting(ctx, params.MeetingID)
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to delete meeting")
		return
	}

	h.log.Info("meeting deleted", "meetingId", params.MeetingID)
	h.reply(ctx, conn, req.ID, st, "meeting delete")
}

func (h *rpcMethodHandler) handleMeetingClear(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	st, err := h.controller.ClearMeetings(ctx)
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to clear meetings")
		return
	}

	h.log.Info("meetings cleared")
	h.reply(ctx, conn, req.ID, st, "meeting clear")
}

func (h *rpcMethodHandler) handleMeetingListSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if h.deps.ListWatcher == nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "meeting list watcher not available")
		return
	}

	id, meetings, err := h.deps.ListWatcher.Subscribe(conn, h.state.connID)
	if err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to subscribe")
		return
	}

	h.reply(ctx, conn, req.ID, rpc.MeetingListSubscribeResult{ID: id, Meetings: meetings}, "meeting list subscribe")
}

func (h *rpcMethodHandler) handleMeetingListUnsubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.MeetingListUnsubscribeParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if h.deps.ListWatcher != nil {
		h.deps.ListWatcher.Unsubscribe(params.ID)
	}

	h.reply(ctx, conn, req.ID, struct{}{}, "meeting list unsubscribe")
}
