package config

// ConfigBackend is where `finrag config set` persists values between runs.
// Bool and float keys are stored as strings and parsed on load. Location
// names the backing store for display; the JSON file backend returns its
// path.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
	Location() string
}
