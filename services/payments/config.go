package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// DatabaseConfig guarda os parâmetros de conexão com o PostgreSQL
type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN monta a string de conexão do pool
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=25&pool_min_conns=5",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// MercadoPagoConfig guarda as credenciais do gateway de pagamento.
// Construída uma única vez no startup e injetada no cliente — nada de
// segredo em variável global de pacote.
type MercadoPagoConfig struct {
	AccessToken string
	// WebhookSecret assina o manifest do webhook. Por padrão é o próprio
	// access token (comportamento da integração original), mas pode ser
	// configurado separado quando o painel do Mercado Pago emite um
	// segredo dedicado.
	WebhookSecret string
	BaseURL       string
}

// Config é a configuração completa do serviço
type Config struct {
	Port          string
	Env           string
	ServiceName   string
	Database      DatabaseConfig
	MercadoPago   MercadoPagoConfig
	JWTSecret     string
	FrontendURL   string
	PublicBaseURL string
	OTLPEndpoint  string
}

// LoadConfig carrega a configuração do ambiente (.env quando presente)
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		ServiceName: getEnv("SERVICE_NAME", "payments-service"),
		Database: DatabaseConfig{
			User:     getEnv("DATABASE_USER", "root"),
			Password: getEnv("DATABASE_PASSWORD", "pass"),
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnv("DATABASE_PORT", "5432"),
			Name:     getEnv("DATABASE_NAME", "store_db"),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:   getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
			WebhookSecret: getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
		},
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:5173"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	if cfg.MercadoPago.WebhookSecret == "" {
		cfg.MercadoPago.WebhookSecret = cfg.MercadoPago.AccessToken
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
