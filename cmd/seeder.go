package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample courses for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, lg := setup("seed")

		app, err := buildApp(cfg, lg)
		if err != nil {
			log.Fatalf("failed to init app: %v", err)
		}
		defer app.Close()
		db := app.Gorm

		if clearData {
			for _, table := range []string{"audit_entries", "webhook_events", "payments", "installments", "installment_plans", "enrollments", "applications", "courses"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		courses := []struct {
			Title          string
			Price          string
			ApplicationFee string
		}{
			{"Software Engineering Bootcamp", "4500.00", "150.00"},
			{"Data Analytics Fundamentals", "2400.00", "100.00"},
			{"Product Design Studio", "3000.00", "0"},
		}

		for _, c := range courses {
			price, err := app.Codec.ParseMajor(c.Price)
			if err != nil {
				log.Fatalf("invalid price for %s: %v", c.Title, err)
			}
			fee, err := app.Codec.ParseMajor(c.ApplicationFee)
			if err != nil {
				log.Fatalf("invalid application fee for %s: %v", c.Title, err)
			}

			var exists int
			row := db.Raw("SELECT 1 FROM courses WHERE title = ?", c.Title).Row()
			if err := row.Scan(&exists); err == nil {
				fmt.Println("course already exists:", c.Title)
				continue
			}

			if err := db.Exec("INSERT INTO courses (title, price, application_fee, currency, created_at, updated_at) VALUES (?, ?, ?, ?, now(), now())",
				c.Title, price, fee, cfg.Payment.Currency).Error; err != nil {
				log.Fatalf("failed to insert course %s: %v", c.Title, err)
			}
			fmt.Printf("Seeded course: %s (%s %s)\n", c.Title, cfg.Payment.Currency, app.Codec.Format(price))
		}

		fmt.Println("Courses seeded successfully")
	},
}
