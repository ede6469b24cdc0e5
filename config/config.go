/*
Package config loads runtime settings from the environment.

PURPOSE:
  One place that knows every knob of the server. Values come from an
  optional .env file, then the process environment; cmd/server flags
  override the result.

VARIABLES:
  LEDGER_PORT              HTTP port                     (8080)
  LEDGER_DB                SQLite database path          (talleres.db)
  LEDGER_ENROLLMENT_PRICE  Default enrollment price      (600)
  LEDGER_CLASS_PRICE       Default per-class price       (150)
  LEDGER_ALLOWED_ORIGINS   Comma-separated CORS origins  (localhost dev servers)

PRICES:
  The prices here are fallbacks. Once a price is stored in the settings
  table it wins over the environment.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting.
type Config struct {
	Port            int
	DBPath          string
	EnrollmentPrice decimal.Decimal
	ClassPrice      decimal.Decimal
	AllowedOrigins  []string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:            8080,
		DBPath:          "talleres.db",
		EnrollmentPrice: decimal.NewFromInt(600),
		ClassPrice:      decimal.NewFromInt(150),
		AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()

	if v, ok := lookup("LEDGER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("LEDGER_PORT: invalid port %q", v)
		}
		cfg.Port = port
	}
	if v, ok := lookup("LEDGER_DB"); ok && v != "" {
		cfg.DBPath = v
	}

	var err error
	if cfg.EnrollmentPrice, err = price(lookup, "LEDGER_ENROLLMENT_PRICE", cfg.EnrollmentPrice); err != nil {
		return cfg, err
	}
	if cfg.ClassPrice, err = price(lookup, "LEDGER_CLASS_PRICE", cfg.ClassPrice); err != nil {
		return cfg, err
	}

	if v, ok := lookup("LEDGER_ALLOWED_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.AllowedOrigins = origins
	}
	return cfg, nil
}

func price(lookup func(string) (string, bool), key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsPositive() {
		return def, fmt.Errorf("%s: invalid price %q", key, v)
	}
	return d, nil
}
