// Package instance derives a stable identifier for this engine process.
package instance

import (
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const appID = "trigger-engine"

var (
	once sync.Once
	id   string
)

// ID returns the machine-scoped engine id. The raw machine id is never
// exposed; it is hashed with the application name. Hosts without a machine
// id get a random id that stays fixed for the life of the process.
func ID() string {
	once.Do(func() {
		id = resolve(func() (string, error) { return machineid.ProtectedID(appID) })
	})
	return id
}

func resolve(lookup func() (string, error)) string {
	mid, err := lookup()
	if err != nil || mid == "" {
		log.Warn().Err(err).Msg("instance: machine id unavailable, using random id")
		return "ephemeral-" + uuid.NewString()[:8]
	}
	if len(mid) > 16 {
		mid = mid[:16]
	}
	return mid
}
