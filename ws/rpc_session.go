package ws

import (
	"context"

	"github.com/joules/server/audio"
	"github.com/joules/server/logger"
	"github.com/joules/server/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleSessionGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req.ID, h.controller.State(), "session get")
}

func (h *rpcMethodHandler) handleRecordingStart(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	st, err := h.controller.StartRecording(ctx)
	if err != nil {
		h.replyErr(ctx, conn, req.ID, err)
		return
	}
	h.reply(ctx, conn, req.ID, st, "recording start")
}

func (h *rpcMethodHandler) handleRecordingStop(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	st, err := h.controller.StopRecording()
	if err != nil {
		h.replyErr(ctx, conn, req.ID, err)
		return
	}
	h.reply(ctx, conn, req.ID, st, "recording stop")
}

func (h *rpcMethodHandler) handleSelectFile(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SelectFileParams
	if req.Params != nil {
		if err := unmarshalParams(req, &params); err != nil {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
			return
		}
	}

	var src *audio.Source
	if len(params.Data) > 0 {
		picked := audio.FromFile(params.FileName, params.Data)
		if params.MediaType != "" {
			picked.MediaType = params.MediaType
		}
		src = &picked
	}

	st := h.controller.SelectFile(src)
	h.log.Info("file selected", "fileName", logger.Truncate(params.FileName, 80), "bytes", len(params.Data))
	h.reply(ctx, conn, req.ID, st, "select file")
}

// handleProcess replies once both stages have finished or been
// superseded; progress arrives as session.changed notifications.
func (h *rpcMethodHandler) handleProcess(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	st, err := h.controller.Process(ctx)
	if err != nil {
		h.replyErr(ctx, conn, req.ID, err)
		return
	}
	h.reply(ctx, conn, req.ID, st, "process")
}

func (h *rpcMethodHandler) handleCommit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.CommitParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	m, err := h.controller.CommitToStore(ctx, params.Name)
	if err != nil {
		h.replyErr(ctx, conn, req.ID, err)
		return
	}

	h.reply(ctx, conn, req.ID, rpc.CommitResult{Meeting: m, Session: h.controller.State()}, "commit")
}

func (h *rpcMethodHandler) handleView(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.MeetingParams
	if err := unmarshalParams(req, &params); err != nil || params.MeetingID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	st, err := h.controller.ViewHistoryItem(ctx, params.MeetingID)
	if err != nil {
		h.replyErr(ctx, conn, req.ID, err)
		return
	}
	h.reply(ctx, conn, req.ID, st, "view")
}
