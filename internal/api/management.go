package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/models"
	"github.com/clefregistry/clef/internal/validation"
)

// managementHandlers serves the JSON management API: organization
// administration and read-only dashboards over the package catalog and
// cache, grounded on the teacher's gin handler idiom.
type managementHandlers struct {
	app *AppContext
}

// RegisterRoutes wires the management API onto a gin router group, matching
// the teacher's RegisterRoutes(rg *gin.RouterGroup) convention.
func (h *managementHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/packages", h.listPackages)
	rg.GET("/packages/popular", h.popularPackages)
	rg.GET("/cache/stats", h.cacheStats)

	rg.POST("/organizations", h.createOrganization)
	rg.GET("/organizations/:name", h.getOrganization)
	rg.PUT("/organizations/:name", h.updateOrganization)
	rg.DELETE("/organizations/:name", h.deleteOrganization)

	rg.GET("/organizations/:name/members", h.listMembers)
	rg.POST("/organizations/:name/members", h.addMember)
	rg.PUT("/organizations/:name/members/:userID", h.updateMemberRole)
	rg.DELETE("/organizations/:name/members/:userID", h.removeMember)
}

func (h *managementHandlers) principal(c *gin.Context) (*models.Principal, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, apierr.Unauthorized("missing Authorization header")
	}
	return h.app.Auth.PrincipalFromHeader(header)
}

// createOrganizationRequest is the payload for organization creation.
type createOrganizationRequest struct {
	Name        string  `json:"name" binding:"required"`
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
}

func (h *managementHandlers) createOrganization(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.OrganizationName(req.Name); err != nil {
		ginError(c, err)
		return
	}

	org, err := h.app.DB.CreateOrganization(req.Name, req.DisplayName, req.Description, principal.UserID)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

func (h *managementHandlers) getOrganization(c *gin.Context) {
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	count, err := h.app.DB.CountPackagesForOrganization(org.ID)
	if err != nil {
		ginError(c, err)
		return
	}
	members, err := h.app.DB.GetOrganizationMembers(org.ID)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org, "members": members, "package_count": count})
}

type updateOrganizationRequest struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
}

func (h *managementHandlers) updateOrganization(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	if ok, err := h.app.DB.CheckOrganizationPermission(org.ID, principal.UserID, models.RoleAdmin); err != nil {
		ginError(c, err)
		return
	} else if !ok {
		ginError(c, apierr.Forbidden("admin role required to update organization %q", org.Name))
		return
	}

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.app.DB.UpdateOrganization(org.ID, req.DisplayName, req.Description)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *managementHandlers) deleteOrganization(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	if ok, err := h.app.DB.CheckOrganizationPermission(org.ID, principal.UserID, models.RoleOwner); err != nil {
		ginError(c, err)
		return
	} else if !ok {
		ginError(c, apierr.Forbidden("owner role required to delete organization %q", org.Name))
		return
	}
	if err := h.app.DB.DeleteOrganization(org.ID); err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *managementHandlers) listMembers(c *gin.Context) {
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	members, err := h.app.DB.GetOrganizationMembers(org.ID)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type addMemberRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

func (h *managementHandlers) addMember(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	if ok, err := h.app.DB.CheckOrganizationPermission(org.ID, principal.UserID, models.RoleAdmin); err != nil {
		ginError(c, err)
		return
	} else if !ok {
		ginError(c, apierr.Forbidden("admin role required to manage members of %q", org.Name))
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := validation.Role(req.Role)
	if err != nil {
		ginError(c, err)
		return
	}
	member, err := h.app.DB.AddOrganizationMember(org.ID, req.UserID, role)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

type updateMemberRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *managementHandlers) updateMemberRole(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	if ok, err := h.app.DB.CheckOrganizationPermission(org.ID, principal.UserID, models.RoleOwner); err != nil {
		ginError(c, err)
		return
	} else if !ok {
		ginError(c, apierr.Forbidden("owner role required to change roles in %q", org.Name))
		return
	}

	targetUserID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := validation.Role(req.Role)
	if err != nil {
		ginError(c, err)
		return
	}
	member, err := h.app.DB.UpdateOrganizationMemberRole(org.ID, targetUserID, role)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *managementHandlers) removeMember(c *gin.Context) {
	principal, err := h.principal(c)
	if err != nil {
		ginError(c, err)
		return
	}
	org, err := h.app.DB.GetOrganizationByName(c.Param("name"))
	if err != nil {
		ginError(c, err)
		return
	}
	targetUserID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if targetUserID != principal.UserID {
		if ok, err := h.app.DB.CheckOrganizationPermission(org.ID, principal.UserID, models.RoleAdmin); err != nil {
			ginError(c, err)
			return
		} else if !ok {
			ginError(c, apierr.Forbidden("admin role required to manage members of %q", org.Name))
			return
		}
	}
	if err := h.app.DB.RemoveOrganizationMember(org.ID, targetUserID); err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (h *managementHandlers) listPackages(c *gin.Context) {
	params := database.PaginationParams{
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
		Search: c.Query("search"),
		SortBy: c.Query("sort"),
		Order:  c.Query("order"),
	}
	packages, total, err := h.app.DB.GetPackagesPaginated(params)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"packages": packages,
		"total":    total,
		"limit":    params.Limit,
		"offset":   params.Offset,
	})
}

func (h *managementHandlers) popularPackages(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	popular, err := h.app.DB.GetPopularPackages(limit)
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"packages": popular})
}

func (h *managementHandlers) cacheStats(c *gin.Context) {
	if _, err := h.principal(c); err != nil {
		ginError(c, err)
		return
	}
	dbStats, err := h.app.DB.GetCacheStats()
	if err != nil {
		ginError(c, err)
		return
	}
	tarballStats, err := h.app.Tarballs.Stats()
	if err != nil {
		ginError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hit_count":       dbStats.HitCount,
		"miss_count":      dbStats.MissCount,
		"tarball_entries": tarballStats.Entries,
		"tarball_bytes":   tarballStats.SizeBytes,
		"redis_enabled":   h.app.Hot.Enabled(),
	})
}
