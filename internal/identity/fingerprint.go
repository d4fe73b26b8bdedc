package identity

import (
	"math/rand/v2"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// GenerateFingerprint draws a fresh anti-detect fingerprint. OS and
// timezone vary per profile; browser and language stay fixed so the fleet
// looks like one population instead of a grab bag.
func GenerateFingerprint(cfg config.IdentityConfig) schemas.Fingerprint {
	fp := schemas.Fingerprint{
		Browser:  cfg.Browser,
		Language: cfg.Language,
	}
	if len(cfg.OSes) > 0 {
		fp.OS = cfg.OSes[rand.IntN(len(cfg.OSes))]
	}
	if len(cfg.Timezones) > 0 {
		fp.Timezone = cfg.Timezones[rand.IntN(len(cfg.Timezones))]
	}
	return fp
}
