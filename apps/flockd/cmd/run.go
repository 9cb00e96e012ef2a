package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/flockml/flock/pkg/db"
	"github.com/flockml/flock/pkg/fapi"
	"github.com/flockml/flock/pkg/fapi/config"
	"github.com/flockml/flock/pkg/fapi/routes"
	"github.com/flockml/flock/pkg/fapi/services"
	"github.com/flockml/flock/pkg/flog"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the coordinator",
	Long:  `Loads configuration from the environment, connects to Postgres, bootstraps the operator account, and serves the coordinator API.`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg, err := config.ValidateEnv()
	if err != nil {
		log.Fatalf("❌ %v\n", err)
	}

	cfg.Print(log.Printf)

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	defer database.Close()

	logger := flog.NewDefault()

	svcs, err := services.NewServices(cfg, database, logger)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}

	if err := svcs.Auth.EnsureDefaultAccount(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("failed to bootstrap operator account: %v", err)
	}

	api := fapi.NewApi()
	routes.RegisterAPI(api.Api, svcs)

	addr := fmt.Sprintf(":%s", cfg.Port)

	log.Printf("🚀 Coordinator starting on %s\n", addr)
	log.Printf("📚 OpenAPI docs: http://localhost%s/docs\n", addr)
	log.Printf("📄 OpenAPI spec: http://localhost%s/openapi.json\n", addr)

	if err := http.ListenAndServe(addr, api.Router); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
