/*
This file contains the HandleWebSocket function, which is responsible for rate
limiting, authenticating the caller, upgrading the HTTP connection to
WebSocket, and initiating the client lifecycle.
*/
package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		payload, customErr := wsPayload(r, deps.Config.JWTSecret)
		if customErr != nil {
			logx.Warn("WebSocket connection rejected: Authentication failed.", "ip", ip)
			resp.RespondError(w, r, customErr)
			return
		}

		identity := user.Identity{
			ID:       payload.ID,
			Username: payload.Username,
		}

		logx.Info("Attempting to upgrade connection", "user_id", identity.ID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, identity, deps.Broker, deps.Registry, deps.Directory, deps.Config.SendQueueSize)

		if customErr := deps.Registry.Register(client); customErr != nil {
			logx.Info("WebSocket connection rejected: Duplicate connection.", "user_id", identity.ID)
			client.Close(customErr.Code, customErr.Message)
			return
		}

		go client.WritePump()

		logx.Info("WebSocket connection established and client registered",
			"client_id", client.ID(), "user_id", identity.ID)

		client.ReadPump()
	}
}

// wsPayload authenticates a WebSocket request. Browser WebSocket clients
// cannot set headers, so the token is accepted from the token query parameter
// as well as the Authorization header.
func wsPayload(r *http.Request, secret string) (*jwt.Payload, *errs.CustomError) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	if token == "" {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	payload, err := jwt.ParseToken(token, secret)
	if err != nil {
		return nil, errs.NewError(errs.ErrHandshakeFailed)
	}

	return payload, nil
}
