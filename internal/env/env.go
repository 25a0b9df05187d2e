package env

import (
	"github.com/thatsimonsguy/blinds-controller/internal/config"
)

var Cfg *config.Config
