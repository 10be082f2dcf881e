package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	LogLevel string

	// API
	HTTPAddr string

	// Worker de reconciliação
	PollInterval   time.Duration
	GatewayTimeout time.Duration
}

// Load carrega variáveis de ambiente, tentando ler .env se existir.
//
// O token do Focus NFe e a identidade fiscal do emissor NÃO vêm daqui:
// moram na tabela system_settings, editável pelo operador.
func Load() (*Config, error) {
	// .env é opcional: se existir, carrega
	_ = godotenv.Load()

	getReq := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			log.Fatalf("variável de ambiente obrigatória ausente: %s", key)
		}
		return v
	}
	getOpt := func(key, def string) string {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		return v
	}

	// Banco
	host := getReq("OFICINA_DB_HOST")
	portStr := getReq("OFICINA_DB_PORT")
	user := getReq("OFICINA_DB_USER")
	pass := getOpt("OFICINA_DB_PASSWORD", "")
	name := getReq("OFICINA_DB_NAME")
	sslmode := getOpt("OFICINA_DB_SSLMODE", "disable")

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("OFICINA_DB_PORT inválido: %w", err)
	}

	// App
	logLevel := getOpt("LOG_LEVEL", "info")
	httpAddr := getOpt("OFICINA_HTTP_ADDR", ":8084")

	pollStr := getOpt("OFICINA_POLL_INTERVAL", "30s")
	pollInterval, err := time.ParseDuration(pollStr)
	if err != nil {
		return nil, fmt.Errorf("OFICINA_POLL_INTERVAL inválido: %w", err)
	}

	timeoutStr := getOpt("OFICINA_GATEWAY_TIMEOUT", "20s")
	gatewayTimeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("OFICINA_GATEWAY_TIMEOUT inválido: %w", err)
	}

	cfg := &Config{
		DBHost:    host,
		DBPort:    port,
		DBUser:    user,
		DBPass:    pass,
		DBName:    name,
		DBSSLMode: sslmode,

		LogLevel: logLevel,
		HTTPAddr: httpAddr,

		PollInterval:   pollInterval,
		GatewayTimeout: gatewayTimeout,
	}

	return cfg, nil
}

// DSN monta a string de conexão no formato "host=... port=... user=...".
func (c *Config) DSN(dbName string) string {
	base := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		dbName,
		c.DBSSLMode,
	)

	if c.DBPass != "" {
		base += fmt.Sprintf(" password=%s", c.DBPass)
	}

	return base
}

// AppDSN retorna o DSN para o banco da aplicação (OFICINA_DB_NAME).
func (c *Config) AppDSN() string {
	return c.DSN(c.DBName)
}

// AdminDSN retorna o DSN para o banco "postgres" (admin), usado para criar o DB da aplicação.
func (c *Config) AdminDSN() string {
	return c.DSN("postgres")
}
