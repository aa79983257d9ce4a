package app

import (
	"errors"
	"strings"
	"time"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (a *Application) checkSuper() {
	const superUsername = "admin"
	const defaultPassword = "wagate"

	hashedPassword := common.Sha256HashWithSalt(defaultPassword, common.GetSecretSalt())

	var operator domain.SysOpr
	err := a.gormDB.Where("username = ?", superUsername).First(&operator).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := a.gormDB.Create(&domain.SysOpr{
			ID:        common.UUIDint64(),
			Realname:  "administrator",
			Mobile:    "0000",
			Email:     "N/A",
			Username:  superUsername,
			Password:  hashedPassword,
			Level:     "super",
			Status:    common.ENABLED,
			Remark:    "super",
			LastLogin: time.Now(),
		}).Error; err != nil {
			zap.L().Error("failed to create default super admin", zap.Error(err))
		} else {
			zap.L().Info("initialized default super admin account", zap.String("username", superUsername))
		}
		return
	case err != nil:
		zap.L().Error("failed to query super admin", zap.Error(err))
		return
	}

	resetPassword := strings.TrimSpace(operator.Password) == ""
	resetLevel := !strings.EqualFold(operator.Level, "super")
	resetStatus := !strings.EqualFold(operator.Status, common.ENABLED)

	if !resetPassword && !resetLevel && !resetStatus {
		return
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if resetPassword {
		updates["password"] = hashedPassword
	}
	if resetLevel {
		updates["level"] = "super"
	}
	if resetStatus {
		updates["status"] = common.ENABLED
	}

	if err := a.gormDB.Model(&domain.SysOpr{}).Where("id = ?", operator.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to repair super admin account", zap.Error(err))
		return
	}

	zap.L().Warn("repaired default super admin account",
		zap.String("username", superUsername),
		zap.Bool("passwordReset", resetPassword),
		zap.Bool("levelReset", resetLevel),
		zap.Bool("statusEnabled", resetStatus))
}

type configDefault struct {
	Sort   int
	Type   string
	Name   string
	Value  string
	Remark string
}

var defaultConfigs = []configDefault{
	{1, "whatsapp", "ConnectCooldownSeconds", "30", "Minimum interval between connection attempts per agent"},
	{2, "whatsapp", "QrTimeoutSeconds", "60", "QR challenge validity window"},
	{3, "whatsapp", "ConnectWaitSeconds", "25", "How long an initialize call waits for a decisive outcome"},
	{4, "whatsapp", "HeartbeatIntervalSeconds", "60", "Owner lease refresh interval"},
	{5, "whatsapp", "StaleThresholdSeconds", "300", "Lease age past which the owner is presumed dead"},
	{6, "whatsapp", "MonitorIntervalSeconds", "300", "Session sweep interval"},
	{7, "whatsapp", "EventPingSeconds", "30", "SSE keepalive comment interval"},
	{8, "whatsapp", "MaxMessageLength", "4096", "Maximum outbound text length in characters"},
	{9, "system", "OprLogRetentionDays", "365", "Operator log retention"},
	{10, "system", "MessageLogRetentionDays", "90", "Outbound message log retention"},
}

func (a *Application) checkSettings() {
	for _, item := range defaultConfigs {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", item.Type, item.Name).
			Count(&count)

		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				ID:     common.UUIDint64(),
				Sort:   item.Sort,
				Type:   item.Type,
				Name:   item.Name,
				Value:  item.Value,
				Remark: item.Remark,
			})
			zap.L().Info("initialized config",
				zap.String("key", item.Type+"."+item.Name),
				zap.String("default", item.Value))
		}
	}
}
