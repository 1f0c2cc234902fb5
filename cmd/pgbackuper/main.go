package main

import (
	"time"

	"go.uber.org/fx"

	"github.com/yurykabanov/pgbackuper/internal/configfx"
	"github.com/yurykabanov/pgbackuper/internal/domainfx"
	"github.com/yurykabanov/pgbackuper/internal/httpfx"
	"github.com/yurykabanov/pgbackuper/internal/loggerfx"
	"github.com/yurykabanov/pgbackuper/internal/sqlfx"
)

func main() {
	logger := loggerfx.Logger()

	app := fx.New(
		fx.StartTimeout(15*time.Second),
		fx.StopTimeout(30*time.Second),

		fx.Logger(logger),

		loggerfx.Module,
		configfx.Module,
		sqlfx.Module,
		domainfx.Module,
		httpfx.Module,
	)

	app.Run()
}
