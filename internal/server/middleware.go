package server

import (
	"strings"

	obsmiddleware "github.com/MMatviiuk/medtrack/internal/observability/logger"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const contextOwnerIDKey = "owner_id"

// OwnerRequired resolves the owner from the header set by the upstream auth
// layer. Every /api route is scoped to that owner.
func OwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(obsmiddleware.OwnerHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ownerID, err := parseOptionalSnowflakeID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("owner_id", "invalid_owner_id", "invalid owner id"))
			return
		}

		c.Set(contextOwnerIDKey, *ownerID)
		c.Next()
	}
}

func ownerIDFrom(c *gin.Context) snowflake.ID {
	v, ok := c.Get(contextOwnerIDKey)
	if !ok {
		return 0
	}
	id, _ := v.(snowflake.ID)
	return id
}

func pathID(c *gin.Context) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		return 0, newValidationError("id", "invalid_id", "invalid id")
	}
	return *id, nil
}
