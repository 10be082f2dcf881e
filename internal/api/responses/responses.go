package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error devolve o formato padrão de erro da API.
func Error(c *gin.Context, status int, message string, details ...string) {
	body := gin.H{
		"success": false,
		"error":   message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(status, body)
}

// NotFound é o atalho pra recurso inexistente.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}
