package config

type Config struct {
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	Environment    string
	Port           string
	AllowedOrigins string
}
