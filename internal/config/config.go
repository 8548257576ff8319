package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
	}
	Relay struct {
		Port string
	}
	Control struct {
		UpstreamURL        string
		RequestTimeoutSecs int
		WSTokenSecret      string
		WSTokenExpMin      int
		WSTokenSkewSecs    int
	}
	Daily struct {
		APIKey      string
		Domain      string
		RoomPrefix  string
		RoomPrivacy string
		AgentName   string
		TokenExpMin int
	}
	Worker struct {
		Cmd string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("relay.port", 3001)

	v.SetDefault("control.request_timeout_secs", 10)
	v.SetDefault("control.ws_token_exp_min", 720)
	v.SetDefault("control.ws_token_skew_secs", 60)

	v.SetDefault("daily.room_prefix", "mandy-")
	v.SetDefault("daily.room_privacy", "private")
	v.SetDefault("daily.agent_name", "Mandy")
	v.SetDefault("daily.token_exp_min", 720)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("relay.port", "RELAY_PORT")

	v.BindEnv("control.upstream_url", "MANDY_CONTROL_URL")
	v.BindEnv("control.request_timeout_secs", "MANDY_CONTROL_TIMEOUT_SECS")
	v.BindEnv("control.ws_token_secret", "MANDY_WS_TOKEN_SECRET")
	v.BindEnv("control.ws_token_exp_min", "MANDY_WS_TOKEN_EXP_MIN")
	v.BindEnv("control.ws_token_skew_secs", "MANDY_WS_TOKEN_SKEW_SECS")

	v.BindEnv("daily.api_key", "DAILY_API_KEY")
	v.BindEnv("daily.domain", "DAILY_DOMAIN")
	v.BindEnv("daily.room_prefix", "DAILY_ROOM_PREFIX")
	v.BindEnv("daily.room_privacy", "DAILY_ROOM_PRIVACY")
	v.BindEnv("daily.agent_name", "MANDY_AGENT_NAME")
	v.BindEnv("daily.token_exp_min", "DAILY_TOKEN_EXP_MIN")

	v.BindEnv("worker.cmd", "MANDY_WORKER_CMD")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Relay.Port = toString(v.Get("relay.port"))

	c.Control.UpstreamURL = v.GetString("control.upstream_url")
	c.Control.RequestTimeoutSecs = v.GetInt("control.request_timeout_secs")
	c.Control.WSTokenSecret = v.GetString("control.ws_token_secret")
	c.Control.WSTokenExpMin = v.GetInt("control.ws_token_exp_min")
	c.Control.WSTokenSkewSecs = v.GetInt("control.ws_token_skew_secs")

	c.Daily.APIKey = v.GetString("daily.api_key")
	c.Daily.Domain = v.GetString("daily.domain")
	c.Daily.RoomPrefix = v.GetString("daily.room_prefix")
	c.Daily.RoomPrivacy = v.GetString("daily.room_privacy")
	c.Daily.AgentName = v.GetString("daily.agent_name")
	c.Daily.TokenExpMin = v.GetInt("daily.token_exp_min")

	c.Worker.Cmd = v.GetString("worker.cmd")

	log.Printf("config loaded: port=%s daily_domain=%s control_url=%s", c.Server.Port, c.Daily.Domain, c.Control.UpstreamURL)
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
