package config

import (
	"fmt"
	"strings"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// SocAlias is the slot name folded into coulomb by Normalize.
const SocAlias = "soc"

const (
	MinBatteries = 1
	MaxBatteries = 16
	MinCapacity  = 1.0
	MaxCapacity  = 2000.0
)

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	switch cfg.Serial.Type {
	case "serial":
		if cfg.Serial.PortPath == "" {
			return fmt.Errorf("serial.port_path is required")
		}
		if cfg.Serial.BaudRate <= 0 {
			return fmt.Errorf("serial.baud_rate must be > 0 (got %d)", cfg.Serial.BaudRate)
		}
	case "demo":
	default:
		return fmt.Errorf("serial.type must be serial or demo (got %q)", cfg.Serial.Type)
	}

	r := cfg.Rack
	if r.NumBatteries < MinBatteries || r.NumBatteries > MaxBatteries {
		return fmt.Errorf("rack.num_batteries must be %d..%d (got %d)", MinBatteries, MaxBatteries, r.NumBatteries)
	}
	if r.CapacityAh < MinCapacity || r.CapacityAh > MaxCapacity {
		return fmt.Errorf("rack.capacity_ah must be %.1f..%.1f (got %g)", MinCapacity, MaxCapacity, r.CapacityAh)
	}
	if r.UpdateInterval <= 0 {
		return fmt.Errorf("rack.update_interval must be > 0")
	}
	if r.RequestTimeout <= 0 {
		return fmt.Errorf("rack.request_timeout must be > 0")
	}
	if r.CommandDelay < 0 {
		return fmt.Errorf("rack.command_delay must be >= 0")
	}
	if r.LinkDownAfter < 0 {
		return fmt.Errorf("rack.link_down_after must be >= 0")
	}
	switch strings.ToLower(r.Checksum) {
	case "", "sum", "crc16", "crc16-arc":
	default:
		return fmt.Errorf("rack.checksum must be sum or crc16 (got %q)", r.Checksum)
	}

	switch strings.ToUpper(cfg.Outputs.TemperatureUnit) {
	case "", "C", "F":
	default:
		return fmt.Errorf("outputs.temperature_unit must be C or F (got %q)", cfg.Outputs.TemperatureUnit)
	}

	if err := validateSlots("outputs.summary", cfg.Outputs.Summary, record.ValidSummaryField); err != nil {
		return err
	}
	for i, m := range cfg.Outputs.Batteries {
		if err := validateSlots(fmt.Sprintf("outputs.batteries[%d]", i), m, record.ValidBatteryField); err != nil {
			return err
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0..2 (got %d)", cfg.MQTT.QoS)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if cfg.Server.Enabled && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return fmt.Errorf("history.path is required when history is enabled")
		}
		if cfg.History.MaxRows < 0 {
			return fmt.Errorf("history.max_rows must be >= 0")
		}
	}
	return nil
}

func validateSlots(where string, m SlotMap, valid func(record.Field) bool) error {
	entities := make(map[string]string, len(m))
	for slot, entity := range m {
		if slot != SocAlias && !valid(record.Field(slot)) {
			return fmt.Errorf("%s: unknown slot %q", where, slot)
		}
		if strings.TrimSpace(entity) == "" {
			return fmt.Errorf("%s.%s: entity name is empty", where, slot)
		}
		if prev, ok := entities[entity]; ok && !aliases(prev, slot) {
			return fmt.Errorf("%s: entity %q wired to both %s and %s", where, entity, prev, slot)
		}
		entities[entity] = slot
	}
	return nil
}

func aliases(a, b string) bool {
	return (a == SocAlias && b == string(record.FieldCoulomb)) ||
		(b == SocAlias && a == string(record.FieldCoulomb))
}
