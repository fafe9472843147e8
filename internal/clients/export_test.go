package clients

import "github.com/eteran/granary/internal/rgw"

// CountAdminBuilds wraps the admin constructor so tests can observe how many
// times it runs.
func CountAdminBuilds(f *Factory, count func()) {
	build := f.newAdmin
	f.newAdmin = func(cfg rgw.Config) (*rgw.AdminClient, error) {
		count()
		return build(cfg)
	}
	f.reset()
}
