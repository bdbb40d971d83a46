package cli

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/crafthq/craft/internal/config"
)

// ConfigShow prints the effective configuration, defaults layered under the
// file contents.
func ConfigShow(env Env, jsonOut bool) error {
	if jsonOut {
		return printJSON(env.Config)
	}

	b, err := toml.Marshal(env.Config)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(header("  CRAFT CONFIG"))
	fmt.Println(rule(38))
	fmt.Printf("  %-8s %s\n", colorize(dim, "file:"), env.ConfigPath)
	if _, statErr := os.Stat(env.ConfigPath); os.IsNotExist(statErr) {
		fmt.Printf("  %-8s %s\n", "", colorize(dim, "(not written yet, showing defaults)"))
	}
	fmt.Println()
	fmt.Print(string(b))
	fmt.Println()
	return nil
}

// ConfigSet applies one dotted-key assignment and saves the file.
func ConfigSet(env Env, key, value string) error {
	cfg := env.Config
	if err := config.Set(&cfg, key, value); err != nil {
		return err
	}
	if err := config.Save(env.ConfigPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Set %s = %s\n", colorize(bold, key), value)
	return nil
}

// ConfigRestore rewrites the config file with defaults.
func ConfigRestore(env Env) error {
	if err := config.Restore(env.ConfigPath); err != nil {
		return err
	}
	fmt.Printf("Restored default config at %s\n", env.ConfigPath)
	return nil
}
