package common

const (
	ComponentSyncEngine     = "sync-engine"
	ComponentReorgDetector  = "reorg-detector"
	ComponentGapDetector    = "gap-detector"
	ComponentStore          = "store"
	ComponentRateLimiter    = "rate-limiter"
	ComponentCircuitBreaker = "circuit-breaker"
	ComponentLock           = "lock"
	ComponentValidation     = "validation"
	ComponentMaintenance    = "maintenance"
	ComponentShutdown       = "shutdown"
	ComponentAPI            = "api"
	ComponentNotify         = "notify"
)

var AllComponents = map[string]struct{}{
	ComponentSyncEngine:     {},
	ComponentReorgDetector:  {},
	ComponentGapDetector:    {},
	ComponentStore:          {},
	ComponentRateLimiter:    {},
	ComponentCircuitBreaker: {},
	ComponentLock:           {},
	ComponentValidation:     {},
	ComponentMaintenance:    {},
	ComponentShutdown:       {},
	ComponentAPI:            {},
	ComponentNotify:         {},
}
