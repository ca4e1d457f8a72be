package calculators

import (
	"fmt"
	"strconv"

	"github.com/bryanchriswhite/IrisStreamer/internal/config"
)

// Option values arrive from YAML or viper as int, float64, bool or
// string; these helpers accept any of them.

func optFloat(opts map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("option %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("option %s: unsupported type %T", key, v)
	}
}

func optInt(opts map[string]interface{}, key string, def int) (int, error) {
	f, err := optFloat(opts, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func optBool(opts map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := opts[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, fmt.Errorf("option %s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("option %s: unsupported type %T", key, v)
	}
}

func optString(opts map[string]interface{}, key, def string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return def
}

func requireStreams(cfg config.NodeConfig, inputs, outputs int) error {
	if len(cfg.Inputs) < inputs {
		return fmt.Errorf("%s needs %d input streams, got %d", cfg.Calculator, inputs, len(cfg.Inputs))
	}
	if len(cfg.Outputs) < outputs {
		return fmt.Errorf("%s needs %d output streams, got %d", cfg.Calculator, outputs, len(cfg.Outputs))
	}
	return nil
}
