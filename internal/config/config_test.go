package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func TestFromLookupReportsAllMissing(t *testing.T) {
	_, err := fromLookup(lookupFrom(map[string]string{}))
	require.EqualError(t, err, "missing required env: GRANARY_S3_ENDPOINT, GRANARY_ADMIN_ACCESS_KEY, GRANARY_ADMIN_SECRET_KEY")
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"GRANARY_S3_ENDPOINT":      "http://rgw:7480/",
		"GRANARY_ADMIN_ACCESS_KEY": "ops",
		"GRANARY_ADMIN_SECRET_KEY": "ops-secret",
	}))
	require.NoError(t, err)
	require.Equal(t, "http://rgw:7480/admin", cfg.AdminEndpoint)
	require.Equal(t, cfg.AdminEndpoint, cfg.RateLimitEndpoint)
	require.Equal(t, DefaultRegion, cfg.Region)
	require.EqualValues(t, 30*1024*1024, cfg.PartSize)
	require.Equal(t, 1, cfg.UploadConcurrency)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"GRANARY_S3_ENDPOINT":        "http://rgw:7480",
		"GRANARY_ADMIN_ACCESS_KEY":   "ops",
		"GRANARY_ADMIN_SECRET_KEY":   "ops-secret",
		"GRANARY_RATELIMIT_ENDPOINT": "http://limits:9000/admin",
		"GRANARY_PART_SIZE":          "5242880",
		"GRANARY_UPLOAD_CONCURRENCY": "4",
	}), WithListenAddr(":9999"))
	require.NoError(t, err)
	require.Equal(t, "http://limits:9000/admin", cfg.RateLimitEndpoint)
	require.EqualValues(t, 5<<20, cfg.PartSize)
	require.Equal(t, 4, cfg.UploadConcurrency)
	require.Equal(t, ":9999", cfg.ListenAddr)

	_, err = fromLookup(lookupFrom(map[string]string{
		"GRANARY_S3_ENDPOINT":        "http://rgw:7480",
		"GRANARY_ADMIN_ACCESS_KEY":   "ops",
		"GRANARY_ADMIN_SECRET_KEY":   "ops-secret",
		"GRANARY_UPLOAD_CONCURRENCY": "0",
	}))
	require.ErrorContains(t, err, "upload concurrency must be positive")
}
