package adminapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
)

func registerAgentsRoutes() {
	webserver.ApiGET("/whatsapp/agents", listAgents)
	webserver.ApiGET("/whatsapp/agents/:id", getAgent)
	webserver.ApiPOST("/whatsapp/agents", createAgent)
	webserver.ApiPUT("/whatsapp/agents/:id", updateAgent)
	webserver.ApiDELETE("/whatsapp/agents/:id", deleteAgent)
}

func listAgents(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.WaAgent{})
	if keyword := strings.TrimSpace(c.QueryParam("keyword")); keyword != "" {
		base = base.Where("name like ?", "%"+keyword+"%")
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query agents", err.Error())
	}

	var agents []domain.WaAgent
	if err := base.Order("id DESC").Offset((page-1)*pageSize).Limit(pageSize).Find(&agents).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query agents", err.Error())
	}
	return paged(c, agents, total, page, pageSize)
}

func getAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	var a domain.WaAgent
	if err := GetDB(c).Where("id = ?", id).First(&a).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query agent", err.Error())
	}
	return ok(c, a)
}

type agentPayload struct {
	Name   string `json:"name"`
	Remark string `json:"remark"`
	Status string `json:"status"`
}

// createAgent inserts the agent together with its session row so every agent
// always has exactly one session record.
func createAgent(c echo.Context) error {
	var payload agentPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse agent parameters", nil)
	}
	if strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_NAME", "Agent name is required", nil)
	}

	var dup domain.WaAgent
	if err := GetDB(c).Where("name = ?", strings.TrimSpace(payload.Name)).First(&dup).Error; err == nil {
		return fail(c, http.StatusConflict, "DUPLICATE_AGENT", "Agent with this name already exists", nil)
	}

	a := domain.WaAgent{
		ID:        common.UUIDint64(),
		Name:      strings.TrimSpace(payload.Name),
		Remark:    payload.Remark,
		Status:    common.ENABLED,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err := GetDB(c).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		return store.Create(tx, a.ID)
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create agent", err.Error())
	}
	logOperation(c, "create_agent", a.Name)
	return ok(c, a)
}

func updateAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	var payload agentPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse agent parameters", nil)
	}
	var a domain.WaAgent
	if err := GetDB(c).Where("id = ?", id).First(&a).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query agent", err.Error())
	}

	updates := map[string]interface{}{}
	if payload.Name != "" {
		var dup domain.WaAgent
		if err := GetDB(c).Where("name = ? AND id != ?", strings.TrimSpace(payload.Name), id).First(&dup).Error; err == nil {
			return fail(c, http.StatusConflict, "DUPLICATE_AGENT", "Another agent with this name already exists", nil)
		}
		updates["name"] = strings.TrimSpace(payload.Name)
	}
	if payload.Remark != "" {
		updates["remark"] = payload.Remark
	}
	if payload.Status != "" {
		if payload.Status != common.ENABLED && payload.Status != common.DISABLED {
			return fail(c, http.StatusBadRequest, "INVALID_STATUS", "Status must be enabled or disabled", nil)
		}
		updates["status"] = payload.Status
	}
	updates["updated_at"] = time.Now()
	if err := GetDB(c).Model(&a).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to update agent", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&a)
	return ok(c, a)
}

// deleteAgent removes the agent and everything hanging off it. The live
// session, if any, is torn down first so no orphan socket survives the row.
func deleteAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}

	_ = supervisor.Disconnect(c.Request().Context(), id)
	supervisor.Registry().Remove(id)

	err = GetDB(c).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ?", id).Delete(&domain.WaSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", id).Delete(&domain.WaMessageLog{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.WaAgent{}).Error
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to delete agent", err.Error())
	}
	logOperation(c, "delete_agent", strconv.FormatInt(id, 10))
	return ok(c, map[string]interface{}{"id": id})
}
