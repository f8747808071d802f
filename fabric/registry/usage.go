package registry

// Usage restricts which programs should accept a given backend.

// In Go, "plugins" are linked at build time: a backend registers itself via init(),
// and is enabled in a binary by importing the backend package (often as a blank import).
type Usage uint8

const (
	// UsageCLI indicates the backend should be available in the paylock CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon indicates the backend can back the store served by paylock-fabricd.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

// Role is what an opened backend can be used for.
type Role uint8

const (
	RoleEndpoint Role = 1 << iota
	RoleIngress
	RoleStore
	RoleCache
)

func (r Role) has(want Role) bool { return r&want == want }

func (r Role) String() string {
	var out string
	add := func(s string) {
		if out != "" {
			out += ","
		}
		out += s
	}
	if r&RoleEndpoint != 0 {
		add("endpoint")
	}
	if r&RoleIngress != 0 {
		add("ingress")
	}
	if r&RoleStore != 0 {
		add("store")
	}
	if r&RoleCache != 0 {
		add("cache")
	}
	return out
}
