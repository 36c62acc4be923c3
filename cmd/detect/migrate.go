package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/banshee-data/pillars.detect/internal/detectdb"
)

// runMigrateCommand handles the 'migrate' subcommand dispatching
func runMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		printMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Open without migrating so down/force work on dirty databases
	db, err := detectdb.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch action {
	case "up":
		handleMigrateUp(db)

	case "down":
		handleMigrateDown(db)

	case "status":
		handleMigrateStatus(db)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: detect migrate force <version_number>")
		}
		handleMigrateForce(db, args[1])

	case "help":
		printMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		printMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(db *detectdb.DB) {
	log.Printf("Running migrations...")
	if err := db.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	// Show current version
	version, dirty, _ := db.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(db *detectdb.DB) {
	log.Printf("Rolling back one migration...")
	if err := db.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	// Show current version
	version, dirty, _ := db.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(db *detectdb.DB) {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)

	if dirty {
		fmt.Println("\nWARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: detect migrate force <version>")
	}
}

// handleMigrateForce forces the migration version (recovery only)
func handleMigrateForce(db *detectdb.DB, versionStr string) {
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Forcing migration version to %d...", version)
	if err := db.MigrateForce(version); err != nil {
		log.Fatalf("Migration force failed: %v", err)
	}
	log.Println("✓ Migration version forced successfully")
}

// printMigrateHelp displays the help message for the migrate command
func printMigrateHelp() {
	fmt.Println(`Usage: detect migrate <action>

Actions:
  up               Apply all pending migrations
  down             Roll back one migration
  status           Show the current migration version
  force <version>  Force the version after a failed migration (recovery only)
  help             Show this help`)
}
