// Package logx is tickrun's structured logging layer, a thin value
// wrapper over zerolog.
//
// Components hold a logx.Logger and never touch zerolog directly.
// The console sink stays human-readable (short timestamp, file:line
// caller) while the file sink keeps JSON lines. Service.Apply swaps
// sinks and level on config reload without invalidating any Logger
// already handed out.
package logx
