package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quantillon/internal/domain/model"
	domainservice "quantillon/internal/domain/service"
)

type depositRequest struct {
	UsdcIn      float64 `json:"usdc_in" binding:"required"`
	MinQeuroOut float64 `json:"min_qeuro_out"`
}

type withdrawRequest struct {
	QeuroIn    float64 `json:"qeuro_in" binding:"required"`
	MinUsdcOut float64 `json:"min_usdc_out"`
}

type poolAmountRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

type addYieldRequest struct {
	Source string  `json:"source"`
	Amount float64 `json:"amount" binding:"required"`
}

func (s *Server) mountPools(api *gin.RouterGroup) {
	api.POST("/pool/deposit", func(c *gin.Context) {
		var req depositRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Users.Deposit(c.Request.Context(), actorFrom(c), req.UsdcIn, req.MinQeuroOut)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"qeuro_out": out})
	})
	api.POST("/pool/withdraw", func(c *gin.Context) {
		var req withdrawRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Users.Withdraw(c.Request.Context(), actorFrom(c), req.QeuroIn, req.MinUsdcOut)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"usdc_out": out})
	})
	api.POST("/pool/stake", func(c *gin.Context) {
		var req poolAmountRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Users.Stake(c.Request.Context(), actorFrom(c), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"staked": req.Amount})
	})
	api.POST("/pool/unstake", func(c *gin.Context) {
		var req poolAmountRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Users.Unstake(c.Request.Context(), actorFrom(c), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unstaked": req.Amount})
	})
	api.POST("/pool/rewards/claim", func(c *gin.Context) {
		claimed, err := s.deps.Users.ClaimStakingRewards(c.Request.Context(), actorFrom(c))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": claimed})
	})
	api.GET("/pool/rewards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": s.deps.Users.PendingRewards(actorFrom(c))})
	})
	api.GET("/pool/stake", func(c *gin.Context) {
		st, err := s.deps.Users.StakeOf(actorFrom(c))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})
	api.GET("/pool/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Users.Stats())
	})

	api.GET("/yield/distribution", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Yield.Distribution())
	})
	api.GET("/yield/sources", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Yield.Sources())
	})
	api.GET("/yield/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Yield.Metrics())
	})
	api.POST("/yield/update", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Yield.Update(c.Request.Context()))
	})
	// AddYield moves funds off the caller's account, so the keeper role is
	// enforced on the token here.
	api.POST("/yield/add", RequireTokenRole(domainservice.RoleKeeper), func(c *gin.Context) {
		var req addYieldRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		source := model.YieldSource(req.Source)
		if source == "" {
			source = model.YieldSourceOther
		}
		s.deps.Yield.AddYield(c.Request.Context(), source, req.Amount, actorFrom(c))
		c.JSON(http.StatusOK, s.deps.Yield.Distribution())
	})
}
