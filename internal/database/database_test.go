package database

import (
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/cv_score_server/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(&config.DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		Username: "root",
		Password: "secret",
		Database: "cv_score",
	})

	assert.Equal(t, "root:secret@tcp(localhost:3306)/cv_score?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}

func TestNewRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	t.Run("connects", func(t *testing.T) {
		client, err := NewRedis(&config.RedisConfig{Host: host, Port: port})
		require.NoError(t, err)
		defer client.Close()
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := NewRedis(&config.RedisConfig{Host: "127.0.0.1", Port: 1})
		assert.Error(t, err)
	})
}
