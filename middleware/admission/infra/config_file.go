package infra

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"admission-gateway/middleware/admission/domain"

	"gopkg.in/yaml.v3"
)

// LoadResolverConfig lê o mapa de limites/TTLs de um arquivo YAML.
// Campos desconhecidos são erro, para que um typo não vire limite default em silêncio.
func LoadResolverConfig(path string) (domain.ResolverConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.ResolverConfig{}, fmt.Errorf("open admission config: %w", err)
	}
	defer f.Close()
	return ParseResolverConfig(f)
}

func ParseResolverConfig(r io.Reader) (domain.ResolverConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return domain.ResolverConfig{}, fmt.Errorf("read admission config: %w", err)
	}

	var cfg domain.ResolverConfig
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return domain.ResolverConfig{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return cfg, nil
}
