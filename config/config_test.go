package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestDefaults(t *testing.T) {
	viper.Reset()
	SetDefaults()

	if got := SQLConnector(); got != "sqlite" {
		t.Errorf("SQLConnector() = %q, want sqlite", got)
	}
	if got := SQLitePath(); got != "taidi_game.db" {
		t.Errorf("SQLitePath() = %q, want taidi_game.db", got)
	}
	if got := CardValue().String(); got != "0.1" {
		t.Errorf("CardValue() = %s, want 0.1", got)
	}
	if !PasswordEnabled() {
		t.Errorf("PasswordEnabled() = false, want true")
	}
	if got := CacheSize(); got != 64 {
		t.Errorf("CacheSize() = %d, want 64", got)
	}
}

func TestCardValueFallback(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{"valid", "0.25", "0.25"},
		{"garbage", "a quarter", "0.1"},
		{"zero", "0", "0.1"},
		{"negative", "-1", "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			SetDefaults()
			viper.Set("default_card_value", tt.value)
			if got := CardValue().String(); got != tt.expected {
				t.Errorf("CardValue() with %q = %s, want %s", tt.value, got, tt.expected)
			}
		})
	}
}

func TestCacheSizeFloor(t *testing.T) {
	viper.Reset()
	SetDefaults()
	viper.Set("cache_size", 0)
	if got := CacheSize(); got != 1 {
		t.Errorf("CacheSize() = %d, want 1", got)
	}
}
