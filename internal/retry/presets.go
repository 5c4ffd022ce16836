package retry

import "time"

// NetworkPolicy suits HTTP fetches and other remote calls.
func NetworkPolicy() Config {
	return Config{
		Name:          "network",
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// DatabasePolicy suits store reads and writes.
func DatabasePolicy() Config {
	return Config{
		Name:          "database",
		MaxAttempts:   5,
		BaseDelay:     time.Second,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 1.5,
		Jitter:        true,
	}
}

// AIServicePolicy suits embedding and chat calls, which are slow and often overloaded.
func AIServicePolicy() Config {
	return Config{
		Name:          "ai_service",
		MaxAttempts:   4,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// CriticalPolicy retries quickly and often.
func CriticalPolicy() Config {
	return Config{
		Name:          "critical",
		MaxAttempts:   7,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 1.8,
		Jitter:        true,
	}
}

// SimplePolicy makes one extra attempt without jitter.
func SimplePolicy() Config {
	return Config{
		Name:          "simple",
		MaxAttempts:   2,
		BaseDelay:     time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 2,
	}
}

// Preset returns the named policy. Known names are network, database,
// ai_service, critical and simple.
func Preset(name string) (Config, bool) {
	switch name {
	case "network":
		return NetworkPolicy(), true
	case "database":
		return DatabasePolicy(), true
	case "ai_service":
		return AIServicePolicy(), true
	case "critical":
		return CriticalPolicy(), true
	case "simple":
		return SimplePolicy(), true
	default:
		return Config{}, false
	}
}
