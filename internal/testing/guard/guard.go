// Package guard switches the binaries into test mode when imported for side
// effects from a test, so calling main() never dials Postgres or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/gauravitis/crm-sub001/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
