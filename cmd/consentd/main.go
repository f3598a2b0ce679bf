package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:   "consentd",
		Short: "Motor de decisión de consent y autorización para agentes",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "ruta a config.yaml (opcional; env y defaults si falta)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newKeygenCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
