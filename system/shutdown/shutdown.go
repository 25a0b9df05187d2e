package shutdown

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

var (
	mu    sync.Mutex
	hooks []func() error
	once  sync.Once

	// swapped in tests
	exit = os.Exit
)

// OnShutdown registers f to run before the process exits. Hooks run in
// reverse registration order.
func OnShutdown(f func() error) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, f)
}

// Release runs the registered hooks once and returns their combined error.
func Release() error {
	var errs error
	once.Do(func() {
		mu.Lock()
		pending := hooks
		mu.Unlock()
		for i := len(pending) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, pending[i]())
		}
	})
	return errs
}

func Shutdown() {
	if err := Release(); err != nil {
		log.Error().Err(err).Msg("Shutdown hooks failed")
		exit(1)
		return
	}
	log.Info().Msg("Motors stopped, exiting")
	exit(0)
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if herr := Release(); herr != nil {
		log.Error().Err(herr).Msg("Shutdown hooks failed")
	}
	exit(1)
}
