package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/appbundle/internal/config"
	"gopkg.in/yaml.v3"
)

// InspectCmd prints the resolved configuration.
type InspectCmd struct {
	ProjectFlags `embed:""`
	WatchFlags   `embed:""`
}

func (c *InspectCmd) Run() error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	c.apply(cfg)
	return writeConfig(os.Stdout, cfg)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
