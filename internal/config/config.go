package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	AdminAPIToken string
	// SecretsEncryptionKey is a base64-encoded 32-byte key. When set,
	// job results are encrypted at rest.
	SecretsEncryptionKey string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Provision DB is the shared cluster tenant databases are created
	// on, reached through an administrative role.
	ProvisionDBHost     string
	ProvisionDBPort     string
	ProvisionDBName     string
	ProvisionDBUser     string
	ProvisionDBPassword string
	ProvisionDBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HCloudToken             string
	HCloudImage             string
	HCloudRequestsPerMinute int

	DNSPrimaryNS   string
	DNSSecondaryNS string
	DNSDefaultIP   string

	WorkerConcurrency int
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	dbHost := getenv("DB_HOST", "localhost")
	dbPort := getenv("DB_PORT", "5432")
	dbName := getenv("DB_NAME", "mpanel")
	dbUser := getenv("DB_USER", "postgres")
	dbPassword := getenv("DB_PASSWORD", "postgres")
	dbSSLMode := getenv("DB_SSL_MODE", "disable")

	cfg := Config{
		AppName:              getenv("APP_SERVICE", "mpanel"),
		AppVersion:           getenv("APP_VERSION", "0.1.0"),
		Port:                 getenv("PORT", "8081"),
		Environment:          getenv("ENVIRONMENT", "development"),
		AdminAPIToken:        strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),
		SecretsEncryptionKey: strings.TrimSpace(getenv("SECRETS_ENCRYPTION_KEY", "")),

		DBHost:            dbHost,
		DBPort:            dbPort,
		DBName:            dbName,
		DBUser:            dbUser,
		DBPassword:        dbPassword,
		DBSSLMode:         dbSSLMode,
		DBMaxIdleConn:     10,
		DBMaxOpenConn:     100,
		DBConnMaxLifetime: 3600,
		DBConnMaxIdleTime: 60,

		ProvisionDBHost:     getenv("PROVISION_DB_HOST", dbHost),
		ProvisionDBPort:     getenv("PROVISION_DB_PORT", dbPort),
		ProvisionDBName:     getenv("PROVISION_DB_NAME", "postgres"),
		ProvisionDBUser:     getenv("PROVISION_DB_USER", dbUser),
		ProvisionDBPassword: getenv("PROVISION_DB_PASSWORD", dbPassword),
		ProvisionDBSSLMode:  getenv("PROVISION_DB_SSL_MODE", dbSSLMode),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		HCloudToken:             strings.TrimSpace(getenv("HCLOUD_TOKEN", "")),
		HCloudImage:             getenv("HCLOUD_IMAGE", "debian-12"),
		HCloudRequestsPerMinute: getenvInt("HCLOUD_REQUESTS_PER_MINUTE", 60),

		DNSPrimaryNS:   getenv("DNS_PRIMARY_NS", "ns1.mpanel.host"),
		DNSSecondaryNS: getenv("DNS_SECONDARY_NS", "ns2.mpanel.host"),
		DNSDefaultIP:   getenv("DNS_DEFAULT_IP", "127.0.0.1"),

		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 2),
	}

	return &cfg
}

// DSN is the connection string of the application's own database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// ProvisionDSN is the administrative connection string to the shared
// cluster used for tenant database provisioning.
func (c *Config) ProvisionDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.ProvisionDBUser, c.ProvisionDBPassword,
		c.ProvisionDBHost, c.ProvisionDBPort,
		c.ProvisionDBName, c.ProvisionDBSSLMode)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
