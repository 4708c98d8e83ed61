package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type mintRequest struct {
	UsdcIn      float64 `json:"usdc_in" binding:"required"`
	MinQeuroOut float64 `json:"min_qeuro_out"`
}

type redeemRequest struct {
	QeuroIn    float64 `json:"qeuro_in" binding:"required"`
	MinUsdcOut float64 `json:"min_usdc_out"`
}

type reserveRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

type stqStakeRequest struct {
	Amount float64 `json:"amount" binding:"required"`
}

func (s *Server) mountVault(api *gin.RouterGroup) {
	api.GET("/oracle/price/:pair", func(c *gin.Context) {
		price, err := s.deps.Oracle.Price(c.Param("pair"))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pair": c.Param("pair"), "price": price})
	})
	api.GET("/oracle/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Oracle.Status())
	})

	api.POST("/vault/mint", func(c *gin.Context) {
		var req mintRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Vault.Mint(c.Request.Context(), actorFrom(c), req.UsdcIn, req.MinQeuroOut)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"qeuro_out": out})
	})
	api.POST("/vault/redeem", func(c *gin.Context) {
		var req redeemRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Vault.Redeem(c.Request.Context(), actorFrom(c), req.QeuroIn, req.MinUsdcOut)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"usdc_out": out})
	})
	api.GET("/vault/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Vault.Metrics())
	})
	api.POST("/vault/reserves/deploy", func(c *gin.Context) {
		var req reserveRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Vault.DeployReserves(c.Request.Context(), actorFrom(c), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deployed": req.Amount})
	})
	api.POST("/vault/reserves/recall", func(c *gin.Context) {
		var req reserveRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		if err := s.deps.Vault.RecallReserves(c.Request.Context(), actorFrom(c), req.Amount); err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"recalled": req.Amount})
	})
	api.POST("/vault/harvest", func(c *gin.Context) {
		yield, err := s.deps.Vault.Harvest(c.Request.Context(), actorFrom(c))
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"yield": yield})
	})

	api.POST("/stqeuro/stake", func(c *gin.Context) {
		var req stqStakeRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Stq.Stake(c.Request.Context(), actorFrom(c), req.Amount)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stqeuro_out": out})
	})
	api.POST("/stqeuro/unstake", func(c *gin.Context) {
		var req stqStakeRequest
		if err := c.BindJSON(&req); err != nil {
			return
		}
		out, err := s.deps.Stq.Unstake(c.Request.Context(), actorFrom(c), req.Amount)
		if err != nil {
			abortErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"qeuro_out": out})
	})
	api.GET("/stqeuro/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.deps.Stq.Metrics())
	})
}
