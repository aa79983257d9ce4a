package app

import (
	"errors"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/talkincode/wagate/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// configCacheTTL bounds how long a sys_config row is served from memory
// before it is re-read from the database.
const configCacheTTL = 60 * time.Second

type cachedValue struct {
	value    string
	expireAt time.Time
}

// ConfigManager reads system settings from the sys_config table with a
// short-lived in-memory cache. Values are stored as strings and converted
// on access with cast.
type ConfigManager struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]cachedValue
}

func NewConfigManager(db *gorm.DB) *ConfigManager {
	return &ConfigManager{
		db:    db,
		cache: make(map[string]cachedValue),
	}
}

func (c *ConfigManager) getValue(category, name string) string {
	key := category + "." + name

	c.mu.RLock()
	cv, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(cv.expireAt) {
		return cv.value
	}

	var cfg domain.SysConfig
	err := c.db.Where("type = ? and name = ?", category, name).First(&cfg).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Error("config query failed",
				zap.String("category", category),
				zap.String("name", name),
				zap.Error(err))
		}
		return ""
	}

	c.mu.Lock()
	c.cache[key] = cachedValue{value: cfg.Value, expireAt: time.Now().Add(configCacheTTL)}
	c.mu.Unlock()
	return cfg.Value
}

// SetValue writes a setting and invalidates its cache entry.
func (c *ConfigManager) SetValue(category, name, value string) error {
	var count int64
	c.db.Model(&domain.SysConfig{}).
		Where("type = ? and name = ?", category, name).
		Count(&count)

	var err error
	if count == 0 {
		err = c.db.Create(&domain.SysConfig{
			Type:  category,
			Name:  name,
			Value: value,
		}).Error
	} else {
		err = c.db.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Update("value", value).Error
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.cache, category+"."+name)
	c.mu.Unlock()
	return nil
}

func (c *ConfigManager) GetString(category, name string) string {
	return c.getValue(category, name)
}

func (c *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(c.getValue(category, name))
}

func (c *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(c.getValue(category, name))
}

func (c *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(c.getValue(category, name))
}
