package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"privacyguard/internal/domain/services"
)

func TestTrackerCatalog(t *testing.T) {
	c := services.NewTrackerCatalog()

	assert.Equal(t, []string{"TikTok Analytics", "Google Firebase", "AppsFlyer", "Pangle"}, c.TrackersFor("com.zhiliaoapp.musically"))
	assert.Empty(t, c.TrackersFor("com.example.unknown"))
	assert.Equal(t, 10, c.Len())

	assert.Equal(t, "Tracks user interactions to help developers understand engagement.", c.Describe("Mixpanel"))
	assert.Equal(t, services.DefaultTrackerDescription, c.Describe("Pangle"))
}

func TestTrackerCatalog_ReturnsCopy(t *testing.T) {
	c := services.NewTrackerCatalog()

	got := c.TrackersFor("com.whatsapp")
	got[0] = "mutated"

	assert.Equal(t, []string{"Facebook Shared SDK"}, c.TrackersFor("com.whatsapp"))
}
