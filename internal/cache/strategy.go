package cache

// Strategy is the closed set of policies governing how a GET is served.
type Strategy int

const (
	CacheFirst Strategy = iota
	NetworkFirst
	NetworkOnly
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case NetworkOnly:
		return "network-only"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "unknown"
	}
}
