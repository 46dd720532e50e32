// Package api is the gin HTTP surface. Handlers decode, call a service, and
// map domain errors to status codes; all business rules live below.
package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"parley/internal/dispatcher"
	"parley/internal/domain"
	"parley/internal/friends"
	"parley/internal/groups"
	"parley/internal/repository"
	"parley/internal/ws"
)

type API struct {
	Dispatcher *dispatcher.Dispatcher
	Friends    *friends.Service
	Groups     *groups.Service
	Store      *repository.Store
	Hub        *ws.Hub
	JWTSecret  string
}

func (a *API) Routes(r *gin.Engine) {
	r.Use(CORS())

	auth := r.Group("/", Auth(a.JWTSecret))
	auth.GET("/ws", a.serveWS)

	v := auth.Group("/api")
	v.POST("/messages", a.sendMessage)
	v.GET("/messages", a.history)
	v.GET("/conversations", a.conversations)
	v.POST("/conversations/read", a.markRead)
	v.POST("/heartbeat", a.heartbeat)
	v.GET("/users/:id", a.user)

	v.GET("/friends", a.listFriends)
	v.GET("/friends/online", a.onlineFriends)
	v.GET("/friends/requests/sent", a.sentRequests)
	v.GET("/friends/requests/received", a.receivedRequests)
	v.POST("/friends/:id", a.addFriend)
	v.POST("/friends/:id/accept", a.acceptFriend)
	v.POST("/friends/:id/reject", a.rejectFriend)
	v.DELETE("/friends/:id/request", a.cancelFriend)
	v.DELETE("/friends/:id", a.removeFriend)
	v.GET("/friends/:id/status", a.friendStatus)

	v.POST("/groups", a.createGroup)
	v.GET("/groups", a.listGroups)
	v.GET("/groups/:id/members", a.groupMembers)
	v.POST("/groups/:id/members", a.addGroupMembers)
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type sendMessageRequest struct {
	TargetType string `json:"targetType" binding:"required"`
	TargetID   string `json:"targetId" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

func (a *API) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := domain.ParseTarget(req.TargetType, req.TargetID)
	if err != nil {
		fail(c, err)
		return
	}
	event, err := a.Dispatcher.SendMessage(c.Request.Context(), UserID(c), target, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (a *API) history(c *gin.Context) {
	target, err := domain.ParseTarget(c.Query("target_type"), c.Query("target_id"))
	if err != nil {
		fail(c, err)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
	}
	events, err := a.Dispatcher.History(c.Request.Context(), UserID(c), target, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": events})
}

func (a *API) conversations(c *gin.Context) {
	summaries, err := a.Dispatcher.Conversations(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

type markReadRequest struct {
	TargetType string `json:"targetType" binding:"required"`
	TargetID   string `json:"targetId" binding:"required"`
}

func (a *API) markRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := domain.ParseTarget(req.TargetType, req.TargetID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.Dispatcher.MarkRead(c.Request.Context(), UserID(c), target); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// heartbeat refreshes the caller's last-seen timestamp. Clients call it on an
// interval shorter than the online window.
func (a *API) heartbeat(c *gin.Context) {
	if err := a.Store.Touch(c.Request.Context(), UserID(c), time.Now().UTC()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) user(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	user, err := a.Store.User(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, domain.WithOnline(*user, time.Now()))
}

func (a *API) listFriends(c *gin.Context) {
	list, err := a.Friends.Friends(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": list})
}

func (a *API) onlineFriends(c *gin.Context) {
	list, err := a.Friends.OnlineFriends(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": list})
}

func (a *API) sentRequests(c *gin.Context) {
	list, err := a.Friends.Sent(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

func (a *API) receivedRequests(c *gin.Context) {
	list, err := a.Friends.Received(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

// friendAction runs one of the friend transitions against the :id user.
func (a *API) friendAction(c *gin.Context, action func(uuid.UUID, uuid.UUID) error) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if err := action(UserID(c), targetID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) addFriend(c *gin.Context) {
	a.friendAction(c, func(userID, targetID uuid.UUID) error {
		return a.Friends.Add(c.Request.Context(), userID, targetID)
	})
}

func (a *API) acceptFriend(c *gin.Context) {
	a.friendAction(c, func(userID, targetID uuid.UUID) error {
		return a.Friends.Accept(c.Request.Context(), userID, targetID)
	})
}

func (a *API) rejectFriend(c *gin.Context) {
	a.friendAction(c, func(userID, targetID uuid.UUID) error {
		return a.Friends.Reject(c.Request.Context(), userID, targetID)
	})
}

func (a *API) cancelFriend(c *gin.Context) {
	a.friendAction(c, func(userID, targetID uuid.UUID) error {
		return a.Friends.Cancel(c.Request.Context(), userID, targetID)
	})
}

func (a *API) removeFriend(c *gin.Context) {
	a.friendAction(c, func(userID, targetID uuid.UUID) error {
		return a.Friends.Remove(c.Request.Context(), userID, targetID)
	})
}

func (a *API) friendStatus(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	status, err := a.Friends.Status(c.Request.Context(), UserID(c), targetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

type createGroupRequest struct {
	Name    string   `json:"name" binding:"required"`
	UserIDs []string `json:"userIds" binding:"required"`
}

func (a *API) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberIDs, err := parseIDs(req.UserIDs)
	if err != nil {
		fail(c, err)
		return
	}
	group, err := a.Groups.Create(c.Request.Context(), UserID(c), req.Name, memberIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (a *API) listGroups(c *gin.Context) {
	list, err := a.Groups.List(c.Request.Context(), UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": list})
}

func (a *API) groupMembers(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	members, err := a.Groups.Members(c.Request.Context(), UserID(c), groupID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addGroupMembersRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

func (a *API) addGroupMembers(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	var req addGroupMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userIDs, err := parseIDs(req.UserIDs)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.Groups.AddUsers(c.Request.Context(), UserID(c), groupID, userIDs); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid user id %q", domain.ErrValidation, r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
