package config

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
)

func tomlToJSON(data []byte) ([]byte, string, error) {
	var v map[string]any
	if _, err := toml.Decode(string(data), &v); err != nil {
		return nil, "toml", fmt.Errorf("toml unmarshal: %w", err)
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, "toml", fmt.Errorf("toml->json marshal: %w", err)
	}
	return j, "toml", nil
}
