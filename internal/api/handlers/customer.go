package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"blingsync/internal/logger"
	"blingsync/internal/models"
)

type CustomerHandler struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewCustomerHandler(db *gorm.DB, logger *logger.Logger) *CustomerHandler {
	return &CustomerHandler{db: db, logger: logger}
}

func (h *CustomerHandler) List(c *gin.Context) {
	var customers []models.Customer

	page, limit, offset := pagination(c)
	search := strings.ToLower(c.Query("search"))

	query := h.db.WithContext(c.Request.Context()).Model(&models.Customer{})
	if uf := c.Query("uf"); uf != "" {
		query = query.Where("uf = ?", strings.ToUpper(uf))
	}
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(nome) LIKE ? OR LOWER(email) LIKE ? OR documento LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		h.logger.Error("Counting customers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch customers"})
		return
	}
	if err := query.Order("id").Offset(offset).Limit(limit).Find(&customers).Error; err != nil {
		h.logger.Error("Listing customers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch customers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": customers,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *CustomerHandler) Get(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var customer models.Customer
	if err := h.db.WithContext(c.Request.Context()).First(&customer, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch customer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": customer})
}
