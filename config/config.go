// Package config handles pre-database configuration, such as the location of the database.
// Values come from ~/.taidi (yaml), then TAIDI_* environment variables, which
// may themselves be set from a .env file in the working directory.
package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const DefaultCardValue = "0.10"

// Viper-based config loader
func Init() {
	// a missing .env is the normal case
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("can't load .env: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	viper.SetConfigType("yaml")
	viper.SetConfigName(".taidi")
	viper.AddConfigPath(home)
	viper.AutomaticEnv()
	viper.BindEnv("db_url", "TAIDI_DB_URL")
	viper.BindEnv("sql_connector", "TAIDI_SQL_CONNECTOR")
	viper.BindEnv("sqlite_path", "TAIDI_SQLITE_PATH")
	viper.BindEnv("default_card_value", "TAIDI_DEFAULT_CARD_VALUE")
	viper.BindEnv("password_hash", "TAIDI_PASSWORD_HASH")
	viper.BindEnv("enable_password", "TAIDI_ENABLE_PASSWORD")
	viper.BindEnv("cache_size", "TAIDI_CACHE_SIZE")
	SetDefaults()
	err = viper.ReadInConfig() // ignore error if config file missing
	if err != nil {
		log.Printf("viper can't read config file: %v", err)
	}
	log.Printf("Using SQL connector: %s", SQLConnector())
}

// SetDefaults installs defaults without touching files or the environment.
// Tests call it directly.
func SetDefaults() {
	viper.SetDefault("db_url", "")
	viper.SetDefault("sql_connector", "sqlite")
	viper.SetDefault("sqlite_path", "taidi_game.db")
	viper.SetDefault("default_card_value", DefaultCardValue)
	viper.SetDefault("password_hash", "")
	viper.SetDefault("enable_password", true)
	viper.SetDefault("cache_size", 64)
}

func DBURL() string {
	return viper.GetString("db_url")
}

func SQLConnector() string {
	return viper.GetString("sql_connector")
}

func SQLitePath() string {
	return viper.GetString("sqlite_path")
}

// CardValue is the per-card value new games start with.  A value
// that doesn't parse, or isn't positive, falls back to 0.10.
func CardValue() decimal.Decimal {
	fallback := decimal.RequireFromString(DefaultCardValue)
	s := viper.GetString("default_card_value")
	v, err := decimal.NewFromString(s)
	if err != nil {
		log.Printf("bad default_card_value %q, using %s: %v", s, fallback, err)
		return fallback
	}
	if !v.IsPositive() {
		log.Printf("default_card_value %s isn't positive, using %s", v, fallback)
		return fallback
	}
	return v
}

func PasswordHash() string {
	return viper.GetString("password_hash")
}

func PasswordEnabled() bool {
	return viper.GetBool("enable_password")
}

func CacheSize() int {
	n := viper.GetInt("cache_size")
	if n < 1 {
		return 1
	}
	return n
}
