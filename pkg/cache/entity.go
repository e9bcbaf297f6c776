package cache

import "time"

// Entity describes one cacheable kind of backend data: the key prefix all of
// its entries share and the time-to-live applied when an entry is stored.
// TTLs are chosen by expected mutation frequency: branches almost never
// change, while session and dashboard figures move constantly during live
// check-in.
type Entity struct {
	Name string
	TTL  time.Duration
}

// Default entities mirrored from the backend's data kinds.
var (
	Teachers  = Entity{Name: "teachers", TTL: 5 * time.Minute}
	Branches  = Entity{Name: "branches", TTL: 30 * time.Minute}
	Chapters  = Entity{Name: "chapters", TTL: 10 * time.Minute}
	Students  = Entity{Name: "students", TTL: 3 * time.Minute}
	Sessions  = Entity{Name: "sessions", TTL: 2 * time.Minute}
	Dashboard = Entity{Name: "dashboard", TTL: 2 * time.Minute}
	UserStats = Entity{Name: "user_stats", TTL: 2 * time.Minute}
)

// WithTTL returns a copy of the entity with an overridden TTL. A zero or
// negative override keeps the default.
func (e Entity) WithTTL(ttl time.Duration) Entity {
	if ttl <= 0 {
		return e
	}
	return Entity{Name: e.Name, TTL: ttl}
}
