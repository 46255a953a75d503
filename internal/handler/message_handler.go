/*
Package handler provides the HTTP handlers and routing setup for the RelayChat server.

This file contains the handlers for the message history page and message
deletion. History is the catch-up path for connections that were offline
during live fan-out.
*/
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/store"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

// HandleMessageHistory returns a page of the room's messages in ascending
// sequence order. The caller must satisfy the membership guard for the room.
// Query parameters: before (exclusive sequence cursor), limit.
func HandleMessageHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		key, customErr := chat.ParseRoomKey(chi.URLParam(r, "key"))
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		allowed, err := deps.Guard.CanJoin(r.Context(), *identity, key)
		if err != nil {
			logx.Error(err, "membership check failed for history", "room_key", key.String())
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}
		if !allowed {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var beforeSeq int64
		if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
			beforeSeq, err = strconv.ParseInt(beforeStr, 10, 64)
			if err != nil || beforeSeq < 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
		}

		limit := defaultHistoryPageSize
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			limit, err = strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > maxHistoryPageSize {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
		}

		page, err := deps.Store.ListMessages(r.Context(), key.String(), beforeSeq, limit)
		if err != nil {
			logx.Error(err, "failed to list messages", "room_key", key.String())
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		messages := make([]map[string]any, 0, len(page))
		for _, m := range page {
			messages = append(messages, map[string]any{
				"id":            m.ID,
				"roomKey":       m.RoomKey,
				"senderId":      m.SenderID,
				"senderName":    m.SenderName,
				"message":       m.Content,
				"attachmentKey": m.AttachmentKey,
				"sequenceNo":    m.SequenceNo,
				"timestamp":     m.CreatedAt.Format(time.RFC3339),
			})
		}

		resp.RespondSuccess(w, r, map[string]any{"messages": messages})
	}
}

// HandleDeleteMessage removes a message. Only its sender may delete it.
func HandleDeleteMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		messageID := chi.URLParam(r, "id")

		message, err := deps.Store.GetMessage(r.Context(), messageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrMessageNotFound))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		if message.SenderID != identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotMessageSender))
			return
		}

		if err := deps.Store.DeleteMessage(r.Context(), messageID); err != nil {
			logx.Error(err, "failed to delete message", "message_id", messageID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"deleted": messageID})
	}
}
