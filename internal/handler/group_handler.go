/*
Package handler provides the HTTP handlers and routing setup for the RelayChat server.

This file contains the handlers for group management. Every membership-mutating
write invalidates the membership cache, publishes a membership-changed event on
the bus, and revokes live subscriptions where required, so revocation reaches
realtime delivery immediately rather than on the next failed send.
*/
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/store"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

type CreateGroupInput struct {
	Name string `json:"name"`
}

// HandleCreateGroup creates a group owned by the caller, who becomes its first
// member.
func HandleCreateGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		var input CreateGroupInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		input.Name = strings.TrimSpace(input.Name)
		if input.Name == "" || len(input.Name) > 100 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		group, err := deps.Store.CreateGroup(r.Context(), input.Name, identity.ID)
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				resp.RespondError(w, r, errs.NewError(errs.ErrGroupNameExists))
				return
			}
			logx.Error(err, "failed to create group", "name", input.Name)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		resp.RespondSuccess(w, r, groupPayload(group))
	}
}

// HandleListGroups returns the groups the caller belongs to.
func HandleListGroups(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		groups, err := deps.Store.ListGroupsFor(r.Context(), identity.ID)
		if err != nil {
			logx.Error(err, "failed to list groups", "user_id", identity.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		payload := make([]map[string]any, 0, len(groups))
		for _, g := range groups {
			payload = append(payload, groupPayload(g))
		}

		resp.RespondSuccess(w, r, map[string]any{"groups": payload})
	}
}

// HandleDeleteGroup removes a group. Owner only. Live subscribers of the
// group's room are dropped and the membership cache is invalidated.
func HandleDeleteGroup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		groupID := chi.URLParam(r, "id")

		group, customErr := fetchGroup(deps, r, groupID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if group.OwnerID != identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupOwner))
			return
		}

		if err := deps.Store.DeleteGroup(r.Context(), groupID); err != nil {
			logx.Error(err, "failed to delete group", "group_id", groupID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		propagateMembershipChange(deps, r, store.MembershipEvent{
			GroupID: groupID,
			Action:  store.GroupDeleted,
		})

		if key, customErr := chat.GroupKey(groupID); customErr == nil {
			deps.Directory.DropRoom(key)
		}

		resp.RespondSuccess(w, r, map[string]any{"deleted": groupID})
	}
}

type MemberInput struct {
	UserID string `json:"userId"`
}

// HandleAddGroupMember enrolls a user into the group. Owner only.
func HandleAddGroupMember(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		groupID := chi.URLParam(r, "id")

		var input MemberInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		if input.UserID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		group, customErr := fetchGroup(deps, r, groupID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if group.OwnerID != identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupOwner))
			return
		}

		if _, err := deps.Store.GetUserByID(r.Context(), input.UserID); err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUserNotFound))
			return
		}

		if err := deps.Store.AddGroupMember(r.Context(), groupID, input.UserID); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				resp.RespondError(w, r, errs.NewError(errs.ErrAlreadyGroupMember))
				return
			}
			logx.Error(err, "failed to add group member", "group_id", groupID, "user_id", input.UserID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		propagateMembershipChange(deps, r, store.MembershipEvent{
			GroupID: groupID,
			Action:  store.MemberAdded,
			UserID:  input.UserID,
		})

		resp.RespondSuccess(w, r, map[string]any{"groupId": groupID, "userId": input.UserID})
	}
}

// HandleRemoveGroupMember removes a user from the group and revokes that
// user's live subscriptions to the group's room. Owner only, except that any
// member may remove themselves.
func HandleRemoveGroupMember(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityFromRequest(r)
		if identity == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		groupID := chi.URLParam(r, "id")
		userID := chi.URLParam(r, "userID")

		group, customErr := fetchGroup(deps, r, groupID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if group.OwnerID != identity.ID && userID != identity.ID {
			resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupOwner))
			return
		}

		if err := deps.Store.RemoveGroupMember(r.Context(), groupID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				resp.RespondError(w, r, errs.NewError(errs.ErrNotGroupMember))
				return
			}
			logx.Error(err, "failed to remove group member", "group_id", groupID, "user_id", userID)
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageUnavailable))
			return
		}

		propagateMembershipChange(deps, r, store.MembershipEvent{
			GroupID: groupID,
			Action:  store.MemberRemoved,
			UserID:  userID,
		})

		if key, customErr := chat.GroupKey(groupID); customErr == nil {
			deps.Directory.RevokeIdentity(key, userID)
		}

		resp.RespondSuccess(w, r, map[string]any{"groupId": groupID, "userId": userID})
	}
}

// HandleMembershipEvent reacts to a membership-changed event from another
// process: the local cache is invalidated and live subscriptions are revoked,
// the same propagation the mutating process performs locally. Safe to run for
// this process's own events; revocation is idempotent.
func HandleMembershipEvent(deps *AppDeps) func(store.MembershipEvent) {
	return func(event store.MembershipEvent) {
		deps.Guard.Invalidate(event.GroupID)

		key, customErr := chat.GroupKey(event.GroupID)
		if customErr != nil {
			logx.Warn("membership event with invalid group id dropped", "group_id", event.GroupID)
			return
		}

		switch event.Action {
		case store.MemberRemoved:
			deps.Directory.RevokeIdentity(key, event.UserID)
		case store.GroupDeleted:
			deps.Directory.DropRoom(key)
		}
	}
}

// fetchGroup loads the group or maps the failure to the right response error.
func fetchGroup(deps *AppDeps, r *http.Request, groupID string) (store.Group, *errs.CustomError) {
	group, err := deps.Store.GetGroup(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Group{}, errs.NewError(errs.ErrGroupNotFound)
		}
		logx.Error(err, "failed to fetch group", "group_id", groupID)
		return store.Group{}, errs.NewError(errs.ErrStorageUnavailable)
	}
	return group, nil
}

// propagateMembershipChange invalidates the local membership cache and
// publishes the event so other processes invalidate theirs. Publish failures
// are logged, not surfaced: local invalidation already happened and remote
// caches self-repair within one TTL.
func propagateMembershipChange(deps *AppDeps, r *http.Request, event store.MembershipEvent) {
	deps.Guard.Invalidate(event.GroupID)

	if err := deps.Bus.PublishMembershipChange(r.Context(), event); err != nil {
		logx.Error(err, "failed to publish membership event", "group_id", event.GroupID, "action", event.Action)
	}
}

func groupPayload(g store.Group) map[string]any {
	return map[string]any{
		"id":      g.ID,
		"name":    g.Name,
		"ownerId": g.OwnerID,
	}
}
