package config

import (
	"os"
	"strconv"
	"time"
)

const DATABASE_TYPE = "SFLOW_DATABASE_TYPE"
const DATABASE_URL = "SFLOW_DATABASE_URL"
const DATABASE_SQLLITE_FILE_NAME = "SFLOW_DATABASE_SQLLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "SFLOW_ENGINE_SERVER_WEB_PORT"
const ENGINE_EXECUTOR_SIZE = "SFLOW_ENGINE_EXECUTOR_SIZE" //number of workers driving instances in parallel
const ENGINE_QUEUE_SIZE = "SFLOW_ENGINE_QUEUE_SIZE"       //buffered instance ids waiting for a worker
const ENGINE_EXPIRY_SWEEP_INTERVAL = "SFLOW_ENGINE_EXPIRY_SWEEP_INTERVAL"
const ENGINE_EXPIRY_BATCH_SIZE = "SFLOW_ENGINE_EXPIRY_BATCH_SIZE"
const APPROVAL_DEFAULT_DEADLINE = "SFLOW_APPROVAL_DEFAULT_DEADLINE"
const CONDITION_MAX_DEPTH = "SFLOW_CONDITION_MAX_DEPTH"
const DEFINITIONS_DIR = "SFLOW_DEFINITIONS_DIR"
const ADMIN_USERNAME = "SFLOW_ADMIN_USERNAME"
const ADMIN_PASSWORD = "SFLOW_ADMIN_PASSWORD"
const ADMIN_API_KEY = "SFLOW_ADMIN_API_KEY"
const LOG_LEVEL = "SFLOW_LOG_LEVEL"
const WEBHOOK_TIMEOUT = "SFLOW_WEBHOOK_TIMEOUT"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLLITE = "SQLLITE"

var defaults = map[string]string{
	ENGINE_SERVER_WEB_PORT:       "8080",
	ENGINE_EXECUTOR_SIZE:         "5",
	ENGINE_QUEUE_SIZE:            "100",
	ENGINE_EXPIRY_SWEEP_INTERVAL: "60s",
	ENGINE_EXPIRY_BATCH_SIZE:     "100",
	APPROVAL_DEFAULT_DEADLINE:    "72h",
	CONDITION_MAX_DEPTH:          "10",
	DATABASE_SQLLITE_FILE_NAME:   "./stepflow.db",
	LOG_LEVEL:                    "INFO",
	WEBHOOK_TIMEOUT:              "30s",
}

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

// GetSystemSettingDuration parses the setting with time.ParseDuration, falling back
// to the built in default when the configured value is malformed.
func GetSystemSettingDuration(settingKey string) time.Duration {
	if d, err := time.ParseDuration(GetSystemSettingString(settingKey)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(defaults[settingKey])
	return d
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	return defaults[settingKey]
}
