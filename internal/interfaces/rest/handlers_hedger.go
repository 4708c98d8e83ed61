package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantillon/internal/domain/model"
)

type openPositionRequest struct {
	Margin   float64 `json:"margin" binding:"required"`
	Leverage float64 `json:"leverage" binding:"required"`
}

type marginRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

type commitRequest struct {
	PositionID string `json:"position_id" binding:"required"`
	Hash       string `json:"hash" binding:"required"`
}

type revealRequest struct {
	PositionID string `json:"position_id" binding:"required"`
	Salt       string `json:"salt" binding:"required"`
}

type cancelCommitRequest struct {
	PositionID string `json:"position_id" binding:"required"`
}

func (s *Server) mountHedger(api *gin.RouterGroup) {
	api.POST("/hedger/positions", func(c *gin.Context) {
		var req openPositionRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		pos, err := s.deps.Hedger.OpenPosition(c.Request.Context(), actorFrom(c), req.Margin, req.Leverage)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, pos)
	})
	api.GET("/hedger/positions", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Hedger.Positions(actorFrom(c)))
	})
	api.GET("/hedger/positions/:id", func(c *gin.Context) {
		pos, err := s.deps.Hedger.Position(c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		resp := gin.H{
			"position":            pos,
			"pending_liquidation": s.deps.Hedger.HasPendingLiquidation(pos.ID),
		}
		if pos.Status == model.PositionOpen {
			if ratio, err := s.deps.Hedger.MarginRatio(pos.ID); err == nil {
				resp["margin_ratio_bps"] = ratio
			}
		}
		c.JSON(http.StatusOK, resp)
	})
	api.POST("/hedger/positions/:id/close", func(c *gin.Context) {
		payout, err := s.deps.Hedger.ClosePosition(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payout": payout})
	})
	api.POST("/hedger/positions/:id/margin/add", func(c *gin.Context) {
		var req marginRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Hedger.AddMargin(c.Request.Context(), actorFrom(c), c.Param("id"), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"added": req.Amount})
	})
	api.POST("/hedger/positions/:id/margin/remove", func(c *gin.Context) {
		var req marginRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Hedger.RemoveMargin(c.Request.Context(), actorFrom(c), c.Param("id"), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": req.Amount})
	})
	api.POST("/hedger/rewards/claim", func(c *gin.Context) {
		claimed, err := s.deps.Hedger.ClaimRewards(c.Request.Context(), actorFrom(c))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": claimed})
	})
	api.GET("/hedger/rewards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": s.deps.Hedger.PendingRewards(actorFrom(c))})
	})
	api.GET("/hedger/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Hedger.Stats())
	})

	api.GET("/liquidations/candidates", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Hedger.Liquidatable())
	})
	api.GET("/liquidations/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Hedger.Commitments())
	})
	api.POST("/liquidations/commit", func(c *gin.Context) {
		var req commitRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		cm, err := s.deps.Hedger.CommitLiquidation(c.Request.Context(), actorFrom(c), req.PositionID, req.Hash)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, cm)
	})
	api.POST("/liquidations/execute", func(c *gin.Context) {
		var req revealRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		reward, err := s.deps.Hedger.Liquidate(c.Request.Context(), actorFrom(c), req.PositionID, req.Salt)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reward": reward})
	})
	api.POST("/liquidations/cancel", func(c *gin.Context) {
		var req cancelCommitRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Hedger.CancelCommitment(c.Request.Context(), actorFrom(c), req.PositionID); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"canceled": req.PositionID})
	})
}
