package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"quantillon/internal/domain/model"
)

type lockRequest struct {
	Amount       float64 `json:"amount" binding:"required"`
	DurationDays int     `json:"duration_days" binding:"required"`
}

type proposalRequest struct {
	Description string  `json:"description" binding:"required"`
	ActionKey   string  `json:"action_key"`
	ActionValue float64 `json:"action_value"`
}

type voteRequest struct {
	Support *bool `json:"support" binding:"required"`
}

type upgradeRequest struct {
	Component   string `json:"component" binding:"required"`
	NewVersion  string `json:"new_version" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) mountGovernance(api *gin.RouterGroup) {
	api.POST("/governance/locks", func(c *gin.Context) {
		var req lockRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		lock, err := s.deps.Gov.Lock(c.Request.Context(), actorFrom(c), req.Amount,
			time.Duration(req.DurationDays)*24*time.Hour)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, lock)
	})
	api.POST("/governance/unlock", func(c *gin.Context) {
		returned, err := s.deps.Gov.Unlock(c.Request.Context(), actorFrom(c))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"returned": returned})
	})
	api.GET("/governance/locks", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Gov.Locks())
	})
	api.GET("/governance/locks/:account", func(c *gin.Context) {
		lock, err := s.deps.Gov.LockOf(c.Param("account"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, lock)
	})
	api.GET("/governance/power/:account", func(c *gin.Context) {
		now := time.Now().UnixMilli()
		c.JSON(http.StatusOK, gin.H{
			"account": c.Param("account"),
			"power":   s.deps.Gov.VotingPower(c.Param("account"), now),
			"total":   s.deps.Gov.TotalVotingPower(now),
		})
	})

	api.POST("/governance/proposals", func(c *gin.Context) {
		var req proposalRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		var action *model.ParamChange
		if req.ActionKey != "" {
			action = &model.ParamChange{Key: req.ActionKey, Value: req.ActionValue}
		}
		prop, err := s.deps.Gov.Propose(c.Request.Context(), actorFrom(c), req.Description, action)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, prop)
	})
	api.GET("/governance/proposals", func(c *gin.Context) {
		status := model.ProposalStatus(c.Query("status"))
		c.JSON(http.StatusOK, s.deps.Gov.Proposals(status))
	})
	api.GET("/governance/proposals/:id", func(c *gin.Context) {
		prop, err := s.deps.Gov.Proposal(c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, prop)
	})
	api.POST("/governance/proposals/:id/vote", func(c *gin.Context) {
		var req voteRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Gov.Vote(c.Request.Context(), actorFrom(c), c.Param("id"), *req.Support); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"voted": c.Param("id")})
	})
	api.POST("/governance/proposals/:id/finalize", func(c *gin.Context) {
		if err := s.deps.Gov.Finalize(c.Request.Context(), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		prop, err := s.deps.Gov.Proposal(c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, prop)
	})
	api.POST("/governance/proposals/:id/execute", func(c *gin.Context) {
		if err := s.deps.Gov.Execute(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"executed": c.Param("id")})
	})
	api.POST("/governance/proposals/:id/cancel", func(c *gin.Context) {
		if err := s.deps.Gov.Cancel(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"canceled": c.Param("id")})
	})
	api.GET("/governance/proposals/:id/receipts/:voter", func(c *gin.Context) {
		receipt, err := s.deps.Gov.Receipt(c.Param("id"), c.Param("voter"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	})

	api.POST("/upgrades", func(c *gin.Context) {
		var req upgradeRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		up, err := s.deps.Timelock.ProposeUpgrade(c.Request.Context(), actorFrom(c),
			req.Component, req.NewVersion, req.Description)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, up)
	})
	api.GET("/upgrades", func(c *gin.Context) {
		status := model.UpgradeStatus(c.Query("status"))
		c.JSON(http.StatusOK, s.deps.Timelock.Upgrades(status))
	})
	api.GET("/upgrades/versions", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Timelock.Versions())
	})
	api.GET("/upgrades/:id", func(c *gin.Context) {
		up, err := s.deps.Timelock.Upgrade(c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, up)
	})
	api.POST("/upgrades/:id/approve", func(c *gin.Context) {
		if err := s.deps.Timelock.ApproveUpgrade(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		up, err := s.deps.Timelock.Upgrade(c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, up)
	})
	api.POST("/upgrades/:id/execute", func(c *gin.Context) {
		if err := s.deps.Timelock.ExecuteUpgrade(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"executed": c.Param("id")})
	})
	api.POST("/upgrades/:id/cancel", func(c *gin.Context) {
		if err := s.deps.Timelock.CancelUpgrade(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"canceled": c.Param("id")})
	})
}
