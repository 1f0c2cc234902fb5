package schedule

type Preset struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Cron  string `json:"cron"`
}

var presets = []Preset{
	{Name: "hourly", Label: "Every hour", Cron: "0 * * * *"},
	{Name: "daily", Label: "Every day at 02:00", Cron: "0 2 * * *"},
	{Name: "weekly", Label: "Every Sunday at 03:00", Cron: "0 3 * * 0"},
	{Name: "monthly", Label: "Day 1 of every month at 01:00", Cron: "0 1 1 * *"},
	{Name: "weekdays", Label: "Monday to Friday at 02:00", Cron: "0 2 * * 1-5"},
}

// Presets are shortcuts over the same cron grammar, nothing more.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}
