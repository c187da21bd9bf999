// Package config loads, validates, and defaults the TOML configuration shared
// by the partbank daemon and CLI.
//
// Heuristic thresholds for OCR escalation and instrument matching live here
// rather than as code constants; they were tuned empirically and operators
// need to be able to revisit them without a rebuild.
package config
