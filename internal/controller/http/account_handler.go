package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/director74/shop_fulfillment/internal/entity"
	"github.com/director74/shop_fulfillment/internal/usecase"
	apperrors "github.com/director74/shop_fulfillment/pkg/errors"
)

type AccountHandler struct {
	accountUseCase *usecase.AccountUseCase
}

func NewAccountHandler(accountUseCase *usecase.AccountUseCase) *AccountHandler {
	return &AccountHandler{
		accountUseCase: accountUseCase,
	}
}

func (h *AccountHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/accounts/:user_id", h.GetAccount)
		api.POST("/accounts/:user_id/deposit", h.Deposit)
	}
}

// GetAccount возвращает аккаунт пользователя
func (h *AccountHandler) GetAccount(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID пользователя"})
		return
	}

	resp, err := h.accountUseCase.GetAccount(c.Request.Context(), uint(userID))
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Deposit пополняет баланс пользователя
func (h *AccountHandler) Deposit(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный ID пользователя"})
		return
	}

	var req entity.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.accountUseCase.Deposit(c.Request.Context(), uint(userID), req.Amount)
	if apperrors.HandleGinError(c, err) {
		return
	}

	c.JSON(http.StatusOK, resp)
}
