package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailbackend/config"
	"github.com/customeros/mailbackend/internal/database"
	"github.com/customeros/mailbackend/internal/logger"
	"github.com/customeros/mailbackend/internal/repository"
	"github.com/customeros/mailbackend/internal/utils"
	"github.com/customeros/mailbackend/server"
	"github.com/customeros/mailbackend/services"
	"github.com/customeros/mailbackend/services/syncstate"
)

func main() {
	app := &cli.App{
		Name:  "mailbackend",
		Usage: "mail account backends behind a small HTTP API",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
			{
				Name:  "sync",
				Usage: "Sync one account, or one folder of it, and exit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Required: true, Usage: "account uuid"},
					&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "folder server id, every sync folder when empty"},
				},
				Action: syncAccount,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is empty")
	}

	db, err := database.InitDatabase(cfg.DatabaseConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}
	return cfg, db, nil
}

func migrate(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}
	if err := repository.Migrate(cfg.DatabaseConfig, db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func runServer(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailbackend starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}
	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func syncAccount(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	blobs, err := services.InitBlobStorage(cfg)
	if err != nil {
		return err
	}
	repos := repository.InitRepositories(db, blobs)

	// the one-off sync never needs the broker
	cfg.AppConfig.RabbitMQURL = ""
	ctx := utils.WithAccount(context.Background(), c.String("account"))
	svcs, err := services.InitServices(ctx, cfg, appLogger, repos)
	if err != nil {
		return err
	}
	defer svcs.Close()

	if folder := c.String("folder"); folder != "" {
		recorder := syncstate.NewRecorder()
		err := svcs.AccountSync.SyncFolder(ctx, c.String("account"), folder, recorder)
		for _, t := range recorder.Types() {
			fmt.Println(t)
		}
		return err
	}

	account, err := repos.AccountRepository.GetAccount(ctx, c.String("account"))
	if err != nil {
		return err
	}
	return svcs.AccountSync.SyncAccount(ctx, account)
}
