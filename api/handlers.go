package api

import (
	"errors"
	"net/http"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/service"
	"github.com/banachtech/volsurface/ssvi"
	"github.com/gin-gonic/gin"
)

type chainRequest struct {
	Symbol string `form:"symbol" binding:"required"`
	Type   string `form:"type,default=call"`
}

type surfaceRequest struct {
	Symbol string `form:"symbol" binding:"required"`
	Type   string `form:"type,default=both"`
}

type sliceRequest struct {
	Symbol string  `form:"symbol" binding:"required"`
	Tau    float64 `form:"t" binding:"required,gt=0"`
	Type   string  `form:"type,default=call"`
}

type evaluateRequest struct {
	Symbol string  `form:"symbol" binding:"required"`
	Tau    float64 `form:"t" binding:"required,gt=0"`
	Type   string  `form:"type,default=both"`
	KMin   float64 `form:"kmin,default=-0.5"`
	KMax   float64 `form:"kmax,default=0.5"`
	N      int     `form:"n,default=21" binding:"min=2,max=1001"`
}

type ssviRequest struct {
	K   *float64 `form:"k" binding:"required"`
	Tau float64  `form:"t" binding:"required,gt=0"`
	A   *float64 `form:"a" binding:"required"`
	B   *float64 `form:"b" binding:"required"`
	C   float64  `form:"c" binding:"required,gt=0"`
	Rho *float64 `form:"rho" binding:"required"`
	Eta float64  `form:"eta" binding:"required,gt=0"`
}

func bindOptionType(c *gin.Context, s string) (data.OptionType, bool) {
	option, err := data.ParseOptionType(s)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return "", false
	}
	return option, true
}

func (server *Server) chain(c *gin.Context) {
	var req chainRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	quotes, err := server.calibrator.Chain(c, req.Symbol, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, quotes)
}

func (server *Server) theta(c *gin.Context) {
	var req surfaceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	curve, err := server.calibrator.ThetaCurve(c, req.Symbol, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, curve)
}

// slices returns the surface parameters and the per-expiry slice parameters.
func (server *Server) slices(c *gin.Context) {
	var req surfaceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	s, err := server.calibrator.FitSurface(c, req.Symbol, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	params := make([]ssvi.SliceParameters, len(s.Slices))
	for i, fit := range s.Slices {
		params[i] = fit.Params
	}
	c.JSON(http.StatusOK, gin.H{
		"surface":  s.Params,
		"slices":   params,
		"skipped":  s.Skipped,
		"degraded": s.Params.Degraded,
		"warning":  s.Warning,
	})
}

func (server *Server) oneSlice(c *gin.Context) {
	var req sliceRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	obs, err := server.calibrator.ListSliceObservations(c, req.Symbol, req.Tau, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"slice":    obs,
		"degraded": obs.Params.Degraded,
	})
}

// allSlices returns every fitted slice with its observations and report.
func (server *Server) allSlices(c *gin.Context) {
	var req chainRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	s, err := server.calibrator.FitSurface(c, req.Symbol, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"surface":  s,
		"degraded": s.Params.Degraded,
	})
}

// surface evaluates the fitted surface on a log-moneyness grid at t.
func (server *Server) surface(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	if req.KMax <= req.KMin {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(errors.New("kmax must exceed kmin")))
		return
	}
	option, ok := bindOptionType(c, req.Type)
	if !ok {
		return
	}

	s, err := server.calibrator.FitSurface(c, req.Symbol, option)
	if err != nil {
		server.abort(c, err)
		return
	}
	e := server.calibrator.Evaluate(s.Params, service.LogMoneynessGrid(req.KMin, req.KMax, req.N), req.Tau)
	c.JSON(http.StatusOK, gin.H{
		"evaluation": e,
		"params":     s.Params,
		"degraded":   s.Params.Degraded,
	})
}

// ssviValue evaluates total variance directly from surface parameters.
func (server *Server) ssviValue(c *gin.Context) {
	var req ssviRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	if *req.A < 0 || *req.B < 0 || *req.Rho <= -1 || *req.Rho >= 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(errors.New("need a, b >= 0 and -1 < rho < 1")))
		return
	}

	w := ssvi.TotalVariance(*req.K, req.Tau, *req.A, *req.B, req.C, *req.Rho, req.Eta)
	c.JSON(http.StatusOK, gin.H{
		"w":     w,
		"sigma": ssvi.ImpliedVol(w, req.Tau),
	})
}
