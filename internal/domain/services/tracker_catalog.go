package services

// DefaultTrackerDescription is returned for trackers without a catalog entry
const DefaultTrackerDescription = "Third-party service used for analytics or advertising."

var knownTrackers = map[string][]string{
	"com.facebook.katana":               {"Facebook Analytics", "Facebook Share", "Facebook Login"},
	"com.instagram.android":             {"Facebook Analytics", "Google CrashLytics", "Facebook Ads"},
	"com.whatsapp":                      {"Facebook Shared SDK"},
	"com.zhiliaoapp.musically":          {"TikTok Analytics", "Google Firebase", "AppsFlyer", "Pangle"},
	"com.snapchat.android":              {"Snapchat Analytics", "Google Firebase", "CoreMetrics"},
	"com.twitter.android":               {"Google Firebase", "Twitter Analytics", "MoPub"},
	"com.amazon.mShop.android.shopping": {"Amazon Metrics", "Google Firebase"},
	"com.uber.user":                     {"Google Firebase", "Mixpanel", "Braintree"},
	"com.spotify.music":                 {"Google Firebase", "Appboy", "Adjust"},
	"com.truecaller":                    {"Google Firebase", "Facebook Analytics", "MoPub", "AppsFlyer"},
}

var trackerDescriptions = map[string]string{
	"Facebook Analytics":        "Collects data on how you use the app to build an advertising profile.",
	"Google Firebase Analytics": "Provides app usage statistics to developers and helps target Google ads.",
	"AppsFlyer":                 "Used for marketing attribution to see which ads led you to install the app.",
	"TikTok Analytics":          "Monitors behavior patterns for content serving and tracking.",
	"MoPub":                     "An advertising platform that serves ads and tracks your interactions.",
	"Adjust":                    "Mobile marketing platform used for tracking and attribution.",
	"Mixpanel":                  "Tracks user interactions to help developers understand engagement.",
	"Facebook Shared SDK":       "Shared library that identifies your device across the Facebook ecosystem.",
}

// TrackerCatalog is a static lookup of trackers bundled in known applications
type TrackerCatalog struct {
	trackers     map[string][]string
	descriptions map[string]string
}

// NewTrackerCatalog returns the built-in catalog
func NewTrackerCatalog() *TrackerCatalog {
	return &TrackerCatalog{
		trackers:     knownTrackers,
		descriptions: trackerDescriptions,
	}
}

// TrackersFor returns the trackers bundled in an application, empty if unknown.
// The returned slice is a copy.
func (c *TrackerCatalog) TrackersFor(packageName string) []string {
	found := c.trackers[packageName]
	out := make([]string, len(found))
	copy(out, found)
	return out
}

// Describe returns a human-readable description of a tracker
func (c *TrackerCatalog) Describe(tracker string) string {
	if d, ok := c.descriptions[tracker]; ok {
		return d
	}
	return DefaultTrackerDescription
}

// Len returns the number of catalogued applications
func (c *TrackerCatalog) Len() int {
	return len(c.trackers)
}
