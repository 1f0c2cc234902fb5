package domainfx

import (
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(LoadDefaultSettings),
	fx.Provide(EngineConfigProvider),
	fx.Provide(ConfigStore),
	fx.Provide(StagingArea),
	fx.Provide(DestinationProvider),
	fx.Provide(Dumper),
	fx.Provide(Observer),
	fx.Provide(Catalog),
	fx.Provide(Executor),
	fx.Provide(Scheduler),
	fx.Provide(RetentionSweeper),
	fx.Provide(Orchestrator),
	fx.Invoke(RunOrchestrator),
)
