// Package logx is unitforge's logging layer over zerolog.
//
// A Logger obtained from a Service follows every later Service.Apply, so
// components keep their logger across config reloads. Console output is
// human-readable text on a terminal and JSON otherwise unless Config.Format
// pins it; file output is always JSON.
package logx
