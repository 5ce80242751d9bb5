package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON error envelope shared by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ListResponse wraps paginated collections.
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
}

func paramUint(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
