package handlers

import "github.com/gin-gonic/gin"

// Handlers groups the HTTP handlers registered by RegisterRoutes.
type Handlers struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Users         *UserHandler
}

// RegisterRoutes mounts the authenticated API on r.
func RegisterRoutes(r gin.IRouter, authMiddleware gin.HandlerFunc, h Handlers) {
	api := r.Group("/", authMiddleware)

	api.GET("/conversations", h.Conversations.ListConversations)
	api.POST("/conversations/direct", h.Conversations.StartDirect)
	api.POST("/conversations/groups", h.Conversations.CreateGroup)
	api.GET("/conversations/:conversation_id", h.Conversations.Get)
	api.GET("/conversations/:conversation_id/members", h.Conversations.Members)
	api.DELETE("/conversations/:conversation_id/members/me", h.Conversations.Leave)
	api.GET("/conversations/:conversation_id/pins", h.Conversations.ListPins)
	api.POST("/conversations/:conversation_id/pins", h.Conversations.Pin)
	api.DELETE("/conversations/:conversation_id/pins/:message_id", h.Conversations.Unpin)
	api.POST("/typing", h.Conversations.Typing)

	api.GET("/messages", h.Messages.GetMessages)
	api.POST("/messages", h.Messages.PostMessage)
	api.GET("/messages/search", h.Messages.Search)
	api.PATCH("/messages/:message_id", h.Messages.EditMessage)
	api.DELETE("/messages/:message_id/all", h.Messages.DeleteMessageForAll)
	api.DELETE("/messages/:message_id/me", h.Messages.DeleteMessageForMe)
	api.POST("/messages/:message_id/reactions", h.Messages.React)
	api.POST("/receipts/delivered", h.Messages.MarkDelivered)
	api.POST("/receipts/read", h.Messages.MarkRead)
	api.POST("/uploads/images", h.Messages.UploadImage)

	api.GET("/users/me", h.Users.Me)
	api.PATCH("/users/me", h.Users.UpdateProfile)
	api.POST("/users/me/avatar", h.Users.UploadAvatar)
	api.GET("/users/search", h.Users.Search)
	api.GET("/blocks", h.Users.ListBlocked)
	api.GET("/blocks/:user_id", h.Users.BlockStatus)
	api.PUT("/blocks/:user_id", h.Users.Block)
	api.DELETE("/blocks/:user_id", h.Users.Unblock)
}
