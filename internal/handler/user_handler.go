/*
Package handler provides the HTTP handlers and routing setup for the RelayChat server.

This file contains the handlers for listing users and fetching or updating the
authenticated user's own profile.
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

// HandleListUsers returns every registered user except the caller, annotated
// with the latest direct message exchanged with the caller. Used by clients to
// render the conversation sidebar.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		summaries, err := deps.Store.ListUserSummaries(r.Context(), identity.ID)
		if err != nil {
			logx.Error(err, "failed to list users", "viewer_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		users := make([]map[string]any, 0, len(summaries))
		for _, s := range summaries {
			entry := map[string]any{
				"id":        s.ID,
				"username":  s.Username,
				"avatarKey": s.AvatarKey,
			}
			if s.HasMessages {
				entry["lastMessage"] = s.LastMessage
				entry["lastMessageAt"] = s.LastMessageAt.Format(time.RFC3339)
			}
			users = append(users, entry)
		}

		resp.RespondSuccess(w, r, map[string]any{"users": users})
	}
}

// HandleCurrentUser returns the authenticated user's own profile.
func HandleCurrentUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		account, err := deps.Store.GetUserByID(r.Context(), identity.ID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"id":        account.ID,
			"email":     account.Email,
			"username":  account.Username,
			"avatarKey": account.AvatarKey,
		})
	}
}

type UpdateAvatarInput struct {
	AvatarKey string `json:"avatarKey"`
}

// HandleUpdateAvatar records a new profile picture blob key for the caller and
// deletes the previous blob in the background.
func HandleUpdateAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input UpdateAvatarInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.AvatarKey == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		account, err := deps.Store.GetUserByID(r.Context(), identity.ID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		if err := deps.Store.UpdateAvatar(r.Context(), identity.ID, input.AvatarKey); err != nil {
			logx.Error(err, "failed to update avatar", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		oldKey := account.AvatarKey
		if oldKey != "" && oldKey != input.AvatarKey {
			go func(k string) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = deps.Files.Delete(ctx, k)
			}(oldKey)
		}

		resp.RespondSuccess(w, r, map[string]any{"avatarKey": input.AvatarKey})
	}
}
