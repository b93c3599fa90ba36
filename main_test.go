package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"social-realtime/internal/models"
)

func TestParseSeedUsers(t *testing.T) {
	users := parseSeedUsers(" alice:Alice:Alice Liddell, bob , :nobody,,carol:")

	assert.Equal(t, []models.User{
		{ID: "alice", Username: "Alice", FullName: "Alice Liddell"},
		{ID: "bob", Username: "bob"},
		{ID: "carol", Username: "carol"},
	}, users)
	assert.Empty(t, parseSeedUsers(""))
}

func TestCorsConfig(t *testing.T) {
	assert.True(t, corsConfig([]string{"*"}).AllowAllOrigins)

	conf := corsConfig([]string{"https://a.example"})
	assert.False(t, conf.AllowAllOrigins)
	assert.Equal(t, []string{"https://a.example"}, conf.AllowOrigins)
	assert.True(t, conf.AllowCredentials)
}
