package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"region-service/internal/geo"
	"region-service/internal/service"
)

// nginx's code for a client that went away before the response was written.
const statusClientClosedRequest = 499

type Handler struct {
	regionService *service.RegionService
	log           zerolog.Logger
}

func NewHandler(regionService *service.RegionService, log zerolog.Logger) *Handler {
	return &Handler{
		regionService: regionService,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")

	regions := api.Group("/regions")
	{
		regions.POST("", h.createRegion)
		regions.GET("", h.listRegions)
		regions.GET("/:id", h.getRegion)
		regions.PUT("/:id", h.updateRegion)
		regions.DELETE("/:id", h.deleteRegion)
	}

	search := api.Group("/search")
	{
		search.POST("/intersects", h.searchIntersects)
		search.GET("/radius", h.searchRadius)
		search.GET("/address", h.searchAddress)
	}
}

func (h *Handler) createRegion(c *gin.Context) {
	var req struct {
		Name     string          `json:"name" binding:"required"`
		Geometry json.RawMessage `json:"geometry" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	polygon, err := decodePolygon(req.Geometry)
	if err != nil {
		h.handleError(c, err)
		return
	}

	region, err := h.regionService.Create(c.Request.Context(), service.CreateRegionInput{
		Name:     req.Name,
		Geometry: polygon,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(region))
}

func (h *Handler) listRegions(c *gin.Context) {
	regions, err := h.regionService.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(regions, len(regions)))
}

func (h *Handler) getRegion(c *gin.Context) {
	region, err := h.regionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(region))
}

func (h *Handler) updateRegion(c *gin.Context) {
	var req struct {
		Name     *string         `json:"name"`
		Geometry json.RawMessage `json:"geometry"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Name == nil && len(req.Geometry) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("nothing to update: provide name and/or geometry"))
		return
	}

	input := service.UpdateRegionInput{Name: req.Name}
	if len(req.Geometry) > 0 {
		polygon, err := decodePolygon(req.Geometry)
		if err != nil {
			h.handleError(c, err)
			return
		}
		input.Geometry = &polygon
	}

	region, err := h.regionService.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(region))
}

func (h *Handler) deleteRegion(c *gin.Context) {
	region, err := h.regionService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(region))
}

// searchIntersects accepts either {"geometry": <Polygon>} or a bare GeoJSON
// Polygon as the request body.
func (h *Handler) searchIntersects(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}

	var wrapped struct {
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Geometry) > 0 {
		body = wrapped.Geometry
	}

	polygon, err := decodePolygon(body)
	if err != nil {
		h.handleError(c, err)
		return
	}

	regions, err := h.regionService.Intersects(c.Request.Context(), polygon)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(regions, len(regions)))
}

func (h *Handler) searchRadius(c *gin.Context) {
	lon, err := queryFloat(c, "longitude")
	if err != nil {
		h.handleError(c, err)
		return
	}
	lat, err := queryFloat(c, "latitude")
	if err != nil {
		h.handleError(c, err)
		return
	}
	distance, err := queryFloat(c, "distance")
	if err != nil {
		h.handleError(c, err)
		return
	}

	regions, err := h.regionService.WithinRadius(c.Request.Context(), geo.Point{Lon: lon, Lat: lat}, distance)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(regions, len(regions)))
}

func (h *Handler) searchAddress(c *gin.Context) {
	regions, err := h.regionService.ByAddress(c.Request.Context(), c.Query("address"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(regions, len(regions)))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidGeometry),
		errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrDuplicateName):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResponse("request timed out"))
	case errors.Is(err, context.Canceled):
		c.AbortWithStatus(statusClientClosedRequest)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func decodePolygon(raw json.RawMessage) (geo.Polygon, error) {
	if len(raw) == 0 {
		return geo.Polygon{}, fmt.Errorf("%w: geometry is required", service.ErrInvalidInput)
	}
	g, err := geo.ParseGeoJSON(raw)
	if err != nil {
		return geo.Polygon{}, err
	}
	polygon, ok := g.(geo.Polygon)
	if !ok {
		return geo.Polygon{}, fmt.Errorf("%w: expected Polygon, got %s", service.ErrInvalidGeometry, g.GeoJSONType())
	}
	return polygon, nil
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", service.ErrInvalidQuery, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", service.ErrInvalidQuery, key)
	}
	return v, nil
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func listResponse(data interface{}, results int) gin.H {
	return gin.H{
		"results": results,
		"data":    data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
