package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "repbot"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRegister — внешние регистрации участников в Tracked Set (payload: id или id:on).
	RedisChanRegister = RedisNamespace + ":subjects:register"
)
