package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Student is the demo resource filtered by cmd/filterql.
type Student struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"index"`
	Email     string
	Age       int
	Score     float64
	Status    string
	Active    bool
	Nickname  *string
	CreatedAt time.Time
	Courses   []Course
}

// Course is the to-many relation of Student.
type Course struct {
	ID        int64 `gorm:"primaryKey"`
	StudentID int64 `gorm:"index"`
	Title     string
	Level     int
}

var (
	firstNames = []string{"John", "Jane", "Alice", "Bob", "Charlie", "Diana", "Eve", "Frank", "Grace", "Henry", "Ivy", "Jack"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Wilson", "Taylor"}
	statuses   = []string{"active", "inactive", "pending", "graduated"}
	titles     = []string{"Go", "Databases", "Compilers", "Networks", "Algebra", "Statistics", "Operating Systems"}
	domains    = []string{"gmail.com", "yahoo.com", "example.org", "school.edu"}
)

func main() {
	var (
		path  string
		count int
		seed  int64
	)
	root := &cobra.Command{
		Use:          "seeder",
		Short:        "Create a SQLite demo database of students and courses",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			return run(log, path, count, seed)
		},
	}
	root.Flags().StringVar(&path, "db", "students.db", "SQLite database file")
	root.Flags().IntVar(&count, "students", 200, "number of students to create")
	root.Flags().Int64Var(&seed, "seed", 1, "random seed")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(log *zap.Logger, path string, count int, seed int64) error {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Migrator().DropTable(&Course{}, &Student{}); err != nil {
		return err
	}
	if err := db.AutoMigrate(&Student{}, &Course{}); err != nil {
		return err
	}

	students := generateStudents(rand.New(rand.NewSource(seed)), count)
	if err := db.CreateInBatches(students, 100).Error; err != nil {
		return fmt.Errorf("insert students: %w", err)
	}
	courses := 0
	for _, s := range students {
		courses += len(s.Courses)
	}
	log.Info("seeded demo database",
		zap.String("db", path),
		zap.Int("students", len(students)),
		zap.Int("courses", courses),
	)
	return nil
}

func generateStudents(r *rand.Rand, count int) []Student {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Student, 0, count)
	for i := 0; i < count; i++ {
		first := firstNames[r.Intn(len(firstNames))]
		last := lastNames[r.Intn(len(lastNames))]
		s := Student{
			Name:      first + " " + last,
			Email:     fmt.Sprintf("%s.%s%d@%s", first, last, i, domains[r.Intn(len(domains))]),
			Age:       18 + r.Intn(40),
			Score:     float64(r.Intn(1000)) / 10,
			Status:    statuses[r.Intn(len(statuses))],
			Active:    r.Intn(4) != 0,
			CreatedAt: base.Add(time.Duration(r.Intn(365*24)) * time.Hour),
		}
		if r.Intn(3) == 0 {
			nick := first[:2]
			s.Nickname = &nick
		}
		for j := r.Intn(4); j > 0; j-- {
			s.Courses = append(s.Courses, Course{
				Title: titles[r.Intn(len(titles))],
				Level: 1 + r.Intn(5),
			})
		}
		out = append(out, s)
	}
	return out
}
