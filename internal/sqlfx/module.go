package sqlfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(SqliteConfigProvider),
	fx.Provide(OpenSqliteDatabase),
	fx.Provide(RecordRepository),
	fx.Provide(JobRepository),
	fx.Provide(SettingsRepository),
	fx.Invoke(CloseSqliteDatabase),
)
