package util

import (
	"os"
	"strconv"
	"time"
)

// GetEnv returns the value of the environment variable key or defaultVal if unset.
func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// GetEnvAsInt returns the environment variable parsed as int or defaultVal.
func GetEnvAsInt(key string, defaultVal int) int {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.Atoi(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsFloat64 returns the environment variable parsed as float64 or defaultVal.
func GetEnvAsFloat64(key string, defaultVal float64) float64 {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsBool returns the environment variable parsed as bool or defaultVal.
func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := strconv.ParseBool(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}

// GetEnvAsDuration returns the environment variable parsed via time.ParseDuration or defaultVal.
func GetEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	strVal, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}

	val, err := time.ParseDuration(strVal)
	if err != nil {
		return defaultVal
	}
	return val
}
