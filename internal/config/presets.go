package config

var Presets = map[string]map[string]*Config{
	"plummer": {
		"small": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime = "plummer", 1024, 2
		}),
		"cluster": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime, c.Ranks = "plummer", 16384, 10, 4
			c.Snapshot.Interval = 16
		}),
		"adaptive": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime = "plummer", 4096, 4
			c.Timestep = TimestepConfig{Individual: true, Eta: 0.05, MaxLevel: 5}
		}),
	},
	"two_body": {
		"binary": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime, c.Dt = "two_body", 2, 20, 1.0/64
			c.Gravity.Eps, c.Gravity.Theta = 0.1, 0.5
		}),
	},
	"cold_collapse": {
		"sphere": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime, c.Dt = "cold_collapse", 8192, 3, 1.0/128
			c.Cull.KillDistance = 50
			c.Cull.RemovalDistance = 20
		}),
	},
	"uniform": {
		"cube": withDefaults(func(c *Config) {
			c.Model, c.Bodies, c.EndTime, c.Ranks = "uniform", 8192, 2, 8
		}),
	},
}

func withDefaults(fn func(*Config)) *Config {
	c := DefaultConfig()
	fn(c)
	return c
}

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}
