package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ConfigPath string
	Profile    string
	Verbose    bool
	ApiGinMode string

	Ip   string
	Port string

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// auth
	AuthMode     string // keycloak | hmac
	AuthAddress  string
	Issuer       string
	Audience     string
	Realm        string
	ClientID     string
	ClientSecret string
	JWTSecret    string

	// database
	DBDriver   string // postgres | sqlite
	DBAddress  string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string
}

// Load reads the .env file at path (if any) and resolves every setting from
// the environment, falling back to defaults.
func Load(path string) Config {
	if err := godotenv.Load(path); err != nil {
		log.Printf("Failed to load the config file at %s, using default ones...", path)
	}

	s := strings.Split(path, "/")
	config := Config{
		ConfigPath: s[len(s)-1],
		Profile:    getEnv("PROFILE", "baremetal"),
		Verbose:    getBoolEnv("VERBOSE", "true"),
		ApiGinMode: getEnv("GIN_MODE", "debug"),

		Ip:             getEnv("IP", "localhost"),
		Port:           getEnv("PORT", "5030"),
		AllowedOrigins: getEnvFields("ALLOW_ORIGINS", []string{"*"}),
		AllowedMethods: getEnvFields("ALLOW_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvFields("ALLOW_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),

		AuthMode:     strings.ToLower(getEnv("AUTH_MODE", "keycloak")),
		AuthAddress:  getEnv("AUTH_ADDRESS", "localhost:5555"),
		Issuer:       getEnv("KC_ISSUER", ""),
		Audience:     getEnv("KC_AUDIENCE", "pms-front"),
		Realm:        getEnv("KC_REALM", "pms-myproj"),
		ClientID:     getEnv("KC_CLIENT", "admin"),
		ClientSecret: getEnv("KC_CLIENT_SECRET", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBAddress:  getEnv("DB_ADDRESS", "api-db:5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "pms"),
		SQLitePath: getEnv("SQLITE_PATH", "./pms.db"),
	}

	if config.Issuer == "" {
		config.Issuer = fmt.Sprintf("http://%s/realms/%s", config.AuthAddress, config.Realm)
	}

	if config.Verbose {
		log.Print(config.String())
	}

	return config
}

// PostgresDSN builds the connection string for pgxpool.
func (cfg *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s/%s?sslmode=disable",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBAddress,
		cfg.DBName,
	)
}

func (cfg *Config) JWKSURL() string {
	return fmt.Sprintf("http://%s/realms/%s/protocol/openid-connect/certs", cfg.AuthAddress, cfg.Realm)
}

func getEnv(env, fallback string) string {
	if value, exists := os.LookupEnv(env); exists {
		return value
	}

	return fallback
}

func getEnvFields(env string, fallback []string) []string {
	if value, exists := os.LookupEnv(env); exists {
		fields := strings.Split(strings.TrimSpace(value), ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		return fields
	}

	return fallback
}

func getBoolEnv(env, fallback string) bool {
	if value, exists := os.LookupEnv(env); exists {
		return strings.ToLower(value) == "true"
	}

	return strings.ToLower(fallback) == "true"
}

var secretFields = map[string]struct{}{
	"DBPassword":   {},
	"ClientSecret": {},
	"JWTSecret":    {},
}

func (cfg *Config) String() string {
	var strBuilder strings.Builder

	reflectedValues := reflect.ValueOf(cfg).Elem()
	reflectedTypes := reflect.TypeOf(cfg).Elem()

	strBuilder.WriteString(fmt.Sprintf("[CFG]CONFIGURATION: %s\n", cfg.ConfigPath))

	for i := 0; i < reflectedValues.NumField(); i++ {
		fieldName := reflectedTypes.Field(i).Name
		fieldValue := reflectedValues.Field(i).Interface()

		if _, secret := secretFields[fieldName]; secret {
			if s, _ := fieldValue.(string); s != "" {
				fieldValue = "****"
			}
		}

		strBuilder.WriteString("[CFG]")
		if i < 9 {
			strBuilder.WriteString(fmt.Sprintf("%d.  ", i+1))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%d. ", i+1))
		}
		if len(fieldName) <= 6 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else if len(fieldName) <= 14 {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t\t-> %v\n", fieldName, fieldValue))
		} else {
			strBuilder.WriteString(fmt.Sprintf("%v\t\t\t-> %v\n", fieldName, fieldValue))
		}
	}

	return strBuilder.String()
}
