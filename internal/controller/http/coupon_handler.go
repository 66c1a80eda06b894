package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/usecase"
	apperrors "github.com/director74/shop_fulfillment/pkg/errors"
)

type CouponHandler struct {
	couponUseCase *usecase.CouponUseCase
}

func NewCouponHandler(couponUseCase *usecase.CouponUseCase) *CouponHandler {
	return &CouponHandler{
		couponUseCase: couponUseCase,
	}
}

func (h *CouponHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/coupons/:id/issue", h.IssueCoupon)
		api.GET("/coupons/:id/grants/:user_id", h.GetGrant)
	}
}

// IssueCoupon выдает купон пользователю
func (h *CouponHandler) IssueCoupon(c *gin.Context) {
	couponID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID купона"})
		return
	}

	var req entity.IssueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.couponUseCase.IssueCoupon(c.Request.Context(), req.UserID, uint(couponID))
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetGrant возвращает выдачу купона пользователю
func (h *CouponHandler) GetGrant(c *gin.Context) {
	couponID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID купона"})
		return
	}
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID пользователя"})
		return
	}

	resp, err := h.couponUseCase.GetGrant(c.Request.Context(), uint(userID), uint(couponID))
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}
