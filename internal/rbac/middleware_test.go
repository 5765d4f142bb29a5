package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-triage/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(agentID, role string, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), agentID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs("u", RoleAdmin, RequireAgent(), RequireAnyRole(RoleSupervisor)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_AgentDeniedSupervisorRoute(t *testing.T) {
	if code := serveAs("u", RoleAgent, RequireAgent(), RequireAnyRole(RoleSupervisor)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("u", "network_operator", RequireAgent(), RequireAnyRole("network_operator")); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAgent_MissingIdentity(t *testing.T) {
	if code := serveAs("", RoleAgent, RequireAgent()); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
