package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/commhub/commhub"
)

func main() {
	configFile := flag.String("config", "commhub.json", "Path to the config file")
	createDB := flag.Bool("createdb", false, "Create the database, then exit")
	migrate := flag.Bool("migrate", false, "Run schema migrations, then exit")
	flag.Parse()

	config := &commhub.Config{}
	if err := config.LoadFile(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config %v: %v\n", *configFile, err)
		os.Exit(1)
	}

	if *createDB {
		if err := commhub.SqlCreateDatabase(&config.DB); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating database: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created database %v\n", config.DB.Database)
		return
	}

	if *migrate {
		if err := commhub.RunMigrations(&config.DB); err != nil {
			fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations complete")
		return
	}

	if err := commhub.RunMigrations(&config.DB); err != nil {
		fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
		os.Exit(1)
	}

	central, err := commhub.NewCentralFromConfig(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting up: %v\n", err)
		os.Exit(1)
	}
	defer central.Close()
	if config.Mail.SMTPServer != "" {
		central.Mailer = commhub.NewSMTPMailer(config.Mail.SMTPServer)
	}

	frontend := commhub.NewHttpFrontend(central, &config.HTTP)
	if err := frontend.ListenAndServe(&config.HTTP); err != nil {
		central.Log.Errorf("http frontend stopped: %v", err)
		os.Exit(1)
	}
}
