package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples each configured level independently. Levels
// without an entry, and error and above, pass through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	cores = append(cores, &bandCore{Core: core, exclude: cfg.Levels})
	for lvl, s := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := &bandCore{Core: core, only: lvl, single: true}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), s.Initial, s.Thereafter))
	}
	return zapcore.NewTee(cores...)
}

// bandCore lets through either a single level or every level not in
// exclude. Error and above always go through the exclude band.
type bandCore struct {
	zapcore.Core
	only    zapcore.Level
	single  bool
	exclude map[zapcore.Level]LevelSamplingConfig
}

func (c *bandCore) allows(lvl zapcore.Level) bool {
	if c.single {
		return lvl == c.only
	}
	if lvl >= zapcore.ErrorLevel {
		return true
	}
	_, sampled := c.exclude[lvl]
	return !sampled
}

func (c *bandCore) Enabled(lvl zapcore.Level) bool {
	return c.allows(lvl) && c.Core.Enabled(lvl)
}

func (c *bandCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.allows(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *bandCore) With(fields []zapcore.Field) zapcore.Core {
	return &bandCore{
		Core:    c.Core.With(fields),
		only:    c.only,
		single:  c.single,
		exclude: c.exclude,
	}
}
