package config

import (
	"log"
	"strings"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// Normalize applies deterministic adjustments to a validated config.
// It MUST be called only after Validate.
//
// The soc slot is folded into coulomb; an explicit coulomb wins. Battery
// slot maps beyond num_batteries are dropped.
func Normalize(cfg *Config) {
	cfg.Outputs.TemperatureUnit = strings.ToUpper(cfg.Outputs.TemperatureUnit)
	if cfg.Outputs.TemperatureUnit == "" {
		cfg.Outputs.TemperatureUnit = "C"
	}
	cfg.Rack.Checksum = strings.ToLower(cfg.Rack.Checksum)
	if cfg.Rack.Checksum == "" {
		cfg.Rack.Checksum = "sum"
	}

	cfg.Outputs.Summary = foldSoc(cfg.Outputs.Summary)

	if n := cfg.Rack.NumBatteries; len(cfg.Outputs.Batteries) > n {
		log.Printf("[config] outputs.batteries lists %d packs, num_batteries is %d; ignoring the rest",
			len(cfg.Outputs.Batteries), n)
		cfg.Outputs.Batteries = cfg.Outputs.Batteries[:n]
	}
	for i, m := range cfg.Outputs.Batteries {
		cfg.Outputs.Batteries[i] = foldSoc(m)
	}
}

// foldSoc returns m with the soc alias moved onto coulomb.
func foldSoc(m SlotMap) SlotMap {
	entity, ok := m[SocAlias]
	if !ok {
		return m
	}
	out := make(SlotMap, len(m))
	for k, v := range m {
		if k != SocAlias {
			out[k] = v
		}
	}
	coulomb := string(record.FieldCoulomb)
	if _, set := out[coulomb]; !set {
		out[coulomb] = entity
	}
	return out
}
