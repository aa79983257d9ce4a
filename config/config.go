package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type SystemConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

type DBConfig struct {
	Type   string `yaml:"type"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Name   string `yaml:"name"`
	User   string `yaml:"user"`
	Passwd string `yaml:"passwd"`
	Debug  bool   `yaml:"debug"`
}

type LoggerConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WhatsappConfig holds the session manager tunables. Durations are seconds.
type WhatsappConfig struct {
	ConnectCooldown   int `yaml:"connect_cooldown"`
	QrTimeout         int `yaml:"qr_timeout"`
	ConnectWait       int `yaml:"connect_wait"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	StaleThreshold    int `yaml:"stale_threshold"`
	MonitorInterval   int `yaml:"monitor_interval"`
	SweepWorkers      int `yaml:"sweep_workers"`
	EventPing         int `yaml:"event_ping"`
}

type AppConfig struct {
	System   SystemConfig   `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LoggerConfig   `yaml:"logger"`
	Whatsapp WhatsappConfig `yaml:"whatsapp"`
}

var DefaultAppConfig = &AppConfig{
	System: SystemConfig{
		Appid:    "wagate",
		Location: "Asia/Shanghai",
		Workdir:  "/var/wagate",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1816,
		Secret: "9b6de5cc-wagate-1816-demo-string",
	},
	Database: DBConfig{
		Type:   "postgres",
		Host:   "127.0.0.1",
		Port:   5432,
		Name:   "wagate_v1",
		User:   "postgres",
		Passwd: "myroot",
		Debug:  false,
	},
	Logger: LoggerConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wagate/wagate.log",
	},
	Whatsapp: WhatsappConfig{
		ConnectCooldown:   30,
		QrTimeout:         60,
		ConnectWait:       25,
		HeartbeatInterval: 60,
		StaleThreshold:    300,
		MonitorInterval:   300,
		SweepWorkers:      4,
		EventPing:         30,
	},
}

func setEnvValue(name string, f func(v string)) {
	if v := os.Getenv(name); v != "" {
		f(v)
	}
}

func setEnvInt64Value(name string, f func(v int64)) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if p, err := strconv.ParseInt(v, 10, 64); err == nil {
		f(p)
	}
}

func setEnvBoolValue(name string, f func(v bool)) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if p, err := strconv.ParseBool(v); err == nil {
		f(p)
	}
}

// LoadConfig reads the YAML configuration file and applies env overrides.
// A missing file yields the default configuration.
func LoadConfig(cfile string) *AppConfig {
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	setEnvValue("WAGATE_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvBoolValue("WAGATE_SYSTEM_DEBUG", func(v bool) { cfg.System.Debug = v })
	setEnvValue("WAGATE_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvInt64Value("WAGATE_WEB_PORT", func(v int64) { cfg.Web.Port = int(v) })
	setEnvValue("WAGATE_WEB_SECRET", func(v string) { cfg.Web.Secret = v })
	setEnvValue("WAGATE_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("WAGATE_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvInt64Value("WAGATE_DB_PORT", func(v int64) { cfg.Database.Port = int(v) })
	setEnvValue("WAGATE_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("WAGATE_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("WAGATE_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("WAGATE_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })

	return cfg
}
