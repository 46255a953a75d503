package handler

import (
	"context"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/files"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
)

// MembershipPublisher publishes membership-changed events so other processes
// invalidate their caches and revoke affected subscriptions. Satisfied by
// store.EventBus.
type MembershipPublisher interface {
	PublishMembershipChange(ctx context.Context, event store.MembershipEvent) error
}

// AppDeps bundles the collaborators the handlers are wired with.
type AppDeps struct {
	Config    *configs.AppConfig
	Store     store.Store
	Files     files.Service
	Bus       MembershipPublisher
	Broker    *chat.Broker
	Registry  *chat.Registry
	Directory *chat.Directory
	Guard     *chat.Guard
}
