// Package cronfeed is the trigger side of the engine: it turns schedule
// strings into cron entries and delivers ticks to the run engine. It never
// executes job bodies itself, and it never blocks on admission; a busy job
// answers a tick with a skip, not with backpressure on the cron goroutine.
package cronfeed
