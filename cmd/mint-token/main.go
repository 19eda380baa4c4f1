package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// mint-token signs a bearer token for local development, standing in for
// the identity provider.
func main() {
	var (
		userID       string
		role         string
		ttl          time.Duration
		promptSecret bool
	)
	flag.StringVar(&userID, "user", "", "User id to put in the subject claim")
	flag.StringVar(&role, "role", "", "Role: student, teacher, proctor or admin")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.BoolVar(&promptSecret, "prompt-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	log := logger.Setup("warn", "pretty")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if userID == "" {
		fmt.Print("Enter User ID: ")
		userID, _ = reader.ReadString('\n')
		userID = strings.TrimSpace(userID)
	}
	if userID == "" {
		fmt.Println("Error: User ID is required")
		os.Exit(1)
	}

	if role == "" {
		fmt.Print("Enter Role (student/teacher/proctor/admin): ")
		role, _ = reader.ReadString('\n')
		role = strings.TrimSpace(role)
	}
	if !model.Role(role).Valid() {
		fmt.Printf("Error: unknown role %q\n", role)
		os.Exit(1)
	}

	if promptSecret {
		fmt.Fprint(os.Stderr, "Enter Signing Secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}
	if ttl > 0 {
		cfg.JWTExpiry = ttl
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	token, err := service.NewAuthService(cfg).IssueToken(model.Actor{UserID: userID, Role: model.Role(role)}, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}
